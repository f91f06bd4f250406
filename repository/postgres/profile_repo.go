package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

const profileColumns = `identity_id::text, email, role, confirmed, rejected_at, contact_token, created_at, updated_at`

type profileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository instantiates a Postgres-backed profile store.
func NewProfileRepository(pool *pgxpool.Pool) repository.ProfileRepository {
	return &profileRepository{pool: pool}
}

func (r *profileRepository) Get(ctx context.Context, identityID string) (*domain.Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE identity_id::text = $1`, identityID)
	profile, err := scanProfile(row)
	if err != nil {
		return nil, remote("load profile", err)
	}
	return profile, nil
}

func (r *profileRepository) Put(ctx context.Context, profile *domain.Profile) error {
	if profile == nil || profile.IdentityID == "" {
		return domain.ErrInvalidPayload
	}

	const query = `
	INSERT INTO profiles (identity_id, email, role, confirmed, rejected_at, contact_token, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), NOW())
	ON CONFLICT (identity_id) DO UPDATE
	SET email = EXCLUDED.email,
		role = EXCLUDED.role,
		confirmed = EXCLUDED.confirmed,
		rejected_at = EXCLUDED.rejected_at,
		contact_token = EXCLUDED.contact_token,
		updated_at = NOW()
	RETURNING created_at, updated_at
	`

	var createdAt, updatedAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		profile.IdentityID,
		profile.Email,
		string(profile.Role),
		profile.Confirmed,
		profile.RejectedAt,
		profile.ContactToken,
		nullTime(profile.CreatedAt),
	).Scan(&createdAt, &updatedAt); err != nil {
		return remote("store profile", err)
	}

	profile.CreatedAt = createdAt
	profile.UpdatedAt = updatedAt
	return nil
}

func (r *profileRepository) Patch(ctx context.Context, identityID string, patch domain.ProfilePatch) (*domain.Profile, error) {
	if patch.Empty() {
		return r.Get(ctx, identityID)
	}

	const query = `
	UPDATE profiles
	SET confirmed = COALESCE($2, confirmed),
		rejected_at = COALESCE($3, rejected_at),
		contact_token = COALESCE($4, contact_token),
		updated_at = NOW()
	WHERE identity_id::text = $1
	RETURNING ` + profileColumns

	row := r.pool.QueryRow(ctx, query, identityID, patch.Confirmed, patch.RejectedAt, patch.ContactToken)
	profile, err := scanProfile(row)
	if err != nil {
		return nil, remote("patch profile", err)
	}
	return profile, nil
}

func (r *profileRepository) ListPending(ctx context.Context, limit int) ([]domain.Profile, error) {
	const query = `
	SELECT ` + profileColumns + `
	FROM profiles
	WHERE confirmed = FALSE AND rejected_at IS NULL
	ORDER BY created_at ASC
	LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, remote("list pending profiles", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, remote("scan profile", err)
		}
		profiles = append(profiles, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, remote("list pending profiles", err)
	}
	return profiles, nil
}

func scanProfile(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Profile, error) {
	var (
		profile domain.Profile
		role    string
	)
	if err := row.Scan(
		&profile.IdentityID,
		&profile.Email,
		&role,
		&profile.Confirmed,
		&profile.RejectedAt,
		&profile.ContactToken,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}
	profile.Role = domain.Role(role)
	return &profile, nil
}
