package repository

import (
	"context"

	"github.com/fastygo/agriconnect/domain"
)

// ProfileRepository is the profile store: one record per identity.
type ProfileRepository interface {
	Get(ctx context.Context, identityID string) (*domain.Profile, error)
	Put(ctx context.Context, profile *domain.Profile) error
	Patch(ctx context.Context, identityID string, patch domain.ProfilePatch) (*domain.Profile, error)
	ListPending(ctx context.Context, limit int) ([]domain.Profile, error)
}
