package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

type credentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository stores password hashes for the built-in identity provider.
func NewCredentialRepository(pool *pgxpool.Pool) repository.CredentialRepository {
	return &credentialRepository{pool: pool}
}

func (r *credentialRepository) Create(ctx context.Context, credential *domain.Credential) error {
	if credential == nil || credential.IdentityID == "" || credential.PasswordHash == "" {
		return domain.ErrInvalidPayload
	}
	const query = `
	INSERT INTO credentials (identity_id, email, password_hash)
	VALUES ($1, $2, $3)
	RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		credential.IdentityID,
		normalizeEmail(credential.Email),
		credential.PasswordHash,
	).Scan(&credential.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateIdentity
	}
	return remote("create credential", err)
}

func (r *credentialRepository) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	const query = `
	SELECT identity_id::text, email, password_hash, created_at
	FROM credentials
	WHERE email = $1
	`
	var credential domain.Credential
	err := r.pool.QueryRow(ctx, query, normalizeEmail(email)).Scan(
		&credential.IdentityID,
		&credential.Email,
		&credential.PasswordHash,
		&credential.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, remote("load credential", err)
	}
	return &credential, nil
}

func (r *credentialRepository) Delete(ctx context.Context, identityID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE identity_id::text = $1`, identityID)
	if err != nil {
		return remote("delete credential", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
