package repository

import (
	"context"

	"github.com/fastygo/agriconnect/domain"
)

// CredentialRepository stores password hashes for the built-in identity provider.
type CredentialRepository interface {
	Create(ctx context.Context, credential *domain.Credential) error
	GetByEmail(ctx context.Context, email string) (*domain.Credential, error)
	Delete(ctx context.Context, identityID string) error
}
