package repository

import (
	"context"

	"github.com/fastygo/agriconnect/domain"
)

// DocumentFilter narrows change feed subscriptions and listings.
type DocumentFilter struct {
	Kind    domain.CollectionKind
	OwnerID string
	Status  domain.Status
}

// Match applies the filter to a single document.
func (f DocumentFilter) Match(doc domain.Document) bool {
	if f.Kind != "" && doc.Kind != f.Kind {
		return false
	}
	if f.OwnerID != "" && doc.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && doc.Status != f.Status {
		return false
	}
	return true
}

// DocumentRepository is the write side of the shared catalog store.
type DocumentRepository interface {
	Get(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, filter DocumentFilter) ([]domain.Document, error)
	// Insert stores a new document. Inserting an id that already exists with the
	// same owner is treated as an idempotent replay and returns the stored copy.
	Insert(ctx context.Context, doc *domain.Document) error
	Delete(ctx context.Context, id string) error
	// UpdateStatus is a compare-and-set on the current status; it returns
	// domain.ErrStaleWrite when the document moved on.
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) (*domain.Document, error)
	AppendEvent(ctx context.Context, event domain.Event) error
}

// FeedSubscription is a live change feed registration.
type FeedSubscription interface {
	// Done is closed once the subscription stops delivering, for any reason.
	Done() <-chan struct{}
	// Err reports why delivery stopped; nil after Close.
	Err() error
	Close() error
}

// ChangeFeed pushes insert/update/delete events for a collection. The first
// delivery of every subscription is a snapshot of all matching documents.
// onChange is invoked serially, in delivery order.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter DocumentFilter, onChange func(domain.ChangeEvent)) (FeedSubscription, error)
}
