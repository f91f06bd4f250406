package repository

import (
	"context"

	"github.com/fastygo/agriconnect/domain"
)

// SessionRepository keeps identity provider sessions. Get reports
// domain.ErrSessionNotFound for unknown and lapsed sessions alike.
type SessionRepository interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
	// DeleteForIdentity ends every live session of an identity and reports
	// how many were removed.
	DeleteForIdentity(ctx context.Context, identityID string) (int, error)
}
