// Package memory provides in-memory implementations of the repository ports,
// used by tests and by the ephemeral storage driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

var (
	_ repository.DocumentRepository = (*Catalog)(nil)
	_ repository.ChangeFeed         = (*Catalog)(nil)
)

// Catalog is a document store that doubles as its own change feed.
type Catalog struct {
	mu      sync.Mutex
	docs    map[string]domain.Document
	events  []domain.Event
	subs    map[uint64]*subscription
	nextSub uint64
	offline bool
}

func NewCatalog() *Catalog {
	return &Catalog{
		docs: make(map[string]domain.Document),
		subs: make(map[uint64]*subscription),
	}
}

// SetOffline makes every call fail with REMOTE_UNAVAILABLE and drops live
// subscriptions, imitating a lost connection.
func (c *Catalog) SetOffline(offline bool) {
	c.mu.Lock()
	c.offline = offline
	var dropped []*subscription
	if offline {
		for id, sub := range c.subs {
			dropped = append(dropped, sub)
			delete(c.subs, id)
		}
	}
	c.mu.Unlock()

	for _, sub := range dropped {
		sub.fail(domain.ErrRemoteUnavailable)
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Catalog) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Events returns the audit trail recorded so far.
func (c *Catalog) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func (c *Catalog) Get(ctx context.Context, id string) (*domain.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return nil, domain.ErrRemoteUnavailable
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	clone := doc.Clone()
	return &clone, nil
}

func (c *Catalog) List(ctx context.Context, filter repository.DocumentFilter) ([]domain.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return nil, domain.ErrRemoteUnavailable
	}
	return c.listLocked(filter), nil
}

func (c *Catalog) listLocked(filter repository.DocumentFilter) []domain.Document {
	out := make([]domain.Document, 0)
	for _, doc := range c.docs {
		if filter.Match(doc) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (c *Catalog) Insert(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.Kind == "" || doc.OwnerID == "" {
		return domain.ErrInvalidPayload
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return domain.ErrRemoteUnavailable
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if stored, ok := c.docs[doc.ID]; ok {
		if stored.OwnerID != doc.OwnerID || stored.Kind != doc.Kind {
			return domain.WrapError(domain.ErrCodeConflict, "document id already taken", nil)
		}
		*doc = stored.Clone()
		return nil
	}
	now := time.Now()
	doc.Version = 1
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	c.docs[doc.ID] = doc.Clone()
	c.publishLocked(domain.ChangeInsert, *doc)
	return nil
}

func (c *Catalog) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return domain.ErrRemoteUnavailable
	}
	doc, ok := c.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	delete(c.docs, id)
	c.publishLocked(domain.ChangeDelete, doc)
	return nil
}

func (c *Catalog) UpdateStatus(ctx context.Context, id string, from, to domain.Status) (*domain.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return nil, domain.ErrRemoteUnavailable
	}
	doc, ok := c.docs[id]
	if !ok || doc.Status != from {
		return nil, domain.ErrStaleWrite
	}
	doc.Status = to
	doc.Version++
	doc.UpdatedAt = time.Now()
	c.docs[id] = doc
	c.publishLocked(domain.ChangeUpdate, doc)
	clone := doc.Clone()
	return &clone, nil
}

func (c *Catalog) AppendEvent(ctx context.Context, event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return domain.ErrRemoteUnavailable
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	c.events = append(c.events, event)
	return nil
}

// Subscribe delivers a snapshot synchronously, then live changes from a
// dedicated goroutine.
func (c *Catalog) Subscribe(ctx context.Context, filter repository.DocumentFilter, onChange func(domain.ChangeEvent)) (repository.FeedSubscription, error) {
	if filter.Kind == "" || onChange == nil {
		return nil, domain.ErrInvalidPayload
	}
	c.mu.Lock()
	if c.offline {
		c.mu.Unlock()
		return nil, domain.ErrRemoteUnavailable
	}
	c.nextSub++
	sub := &subscription{
		id:       c.nextSub,
		filter:   filter,
		onChange: onChange,
		catalog:  c,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.subs[sub.id] = sub
	snapshot := c.listLocked(filter)
	c.mu.Unlock()

	onChange(domain.ChangeEvent{Type: domain.ChangeSnapshot, Kind: filter.Kind, Documents: snapshot})
	go sub.run()
	return sub, nil
}

func (c *Catalog) publishLocked(change domain.ChangeType, doc domain.Document) {
	for _, sub := range c.subs {
		event := domain.ChangeEvent{Type: change, Kind: doc.Kind, Document: doc.Clone()}
		if !sub.filter.Match(doc) {
			if change != domain.ChangeUpdate || sub.filter.Kind != doc.Kind {
				continue
			}
			event.Type = domain.ChangeDelete
		}
		sub.push(event)
	}
}

func (c *Catalog) unregister(id uint64) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

type subscription struct {
	id       uint64
	filter   repository.DocumentFilter
	onChange func(domain.ChangeEvent)
	catalog  *Catalog

	mu    sync.Mutex
	queue []domain.ChangeEvent
	err   error

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (s *subscription) push(event domain.ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
			s.mu.Lock()
			events := s.queue
			s.queue = nil
			s.mu.Unlock()
			for _, event := range events {
				select {
				case <-s.stop:
					return
				default:
				}
				s.onChange(event)
			}
		}
	}
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.catalog.unregister(s.id)
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
