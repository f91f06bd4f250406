package usecase

import (
	"context"

	"github.com/fastygo/agriconnect/domain"
)

// IdentityGateway is the identity provider as seen by one client session.
type IdentityGateway interface {
	// CreateIdentity registers a credential. It does not sign the identity in.
	CreateIdentity(ctx context.Context, email, password string) (*domain.Identity, error)
	// DeleteIdentity rolls back a created identity. Providers that cannot delete
	// return domain.ErrDeleteUnsupported.
	DeleteIdentity(ctx context.Context, identityID string) error
	Authenticate(ctx context.Context, email, password string) (*domain.Identity, error)
	SignOut(ctx context.Context) error
	Current() *domain.Identity
	// OnIdentityChanged registers a listener invoked synchronously on every
	// change of the current identity. Nil means signed out.
	OnIdentityChanged(listener func(*domain.Identity)) (unsubscribe func())
}

type Geocoder interface {
	// Resolve returns nil coordinates when the address cannot be located.
	Resolve(ctx context.Context, address string) (*domain.Coordinates, error)
}

type PushTokenIssuer interface {
	RequestToken(ctx context.Context, identityID string) (string, error)
}

type PaymentProcessor interface {
	Initiate(ctx context.Context, amount float64, payerRef, idempotencyKey string) (domain.PaymentResult, error)
}

// Notification routing keys.
const (
	TopicProfileRegistered = "profile.registered"
	TopicProfileConfirmed  = "profile.confirmed"
	TopicProfileRejected   = "profile.rejected"
	TopicRequestDecided    = "request.decided"
	TopicPaymentInitiated  = "payment.initiated"
)

// EventPublisher fans out notifications; failures never block the caller's flow.
type EventPublisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// OperationCreate names a buffered document insert.
const OperationCreate = "create"

// OperationBuffer abstracts the buffer processor so use cases stay storage-agnostic.
type OperationBuffer interface {
	BufferDocument(ctx context.Context, operation string, doc *domain.Document, idempotencyKey string) error
}
