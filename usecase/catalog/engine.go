// Package catalog keeps per-session read models of the shared catalog in sync
// with the remote change feed and gates catalog writes by capability.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
	"github.com/fastygo/agriconnect/usecase"
	"github.com/fastygo/agriconnect/usecase/access"
)

// idempotentNamespace derives stable document ids from client idempotency keys.
var idempotentNamespace = uuid.MustParse("6f1f6a8e-3c2b-4d0e-9a57-1b7d2f0c9e41")

// Metrics receives sync and write outcomes.
type Metrics interface {
	EventApplied(kind domain.CollectionKind, change domain.ChangeType)
	EventIgnored(kind domain.CollectionKind)
	Resubscribed(kind domain.CollectionKind)
	WriteFailed(kind domain.CollectionKind, code domain.ErrorCode)
	SubscriptionOpened()
	SubscriptionClosed()
}

// SnapshotStore persists read models for offline rendering.
type SnapshotStore interface {
	Save(identityID string, kind domain.CollectionKind, docs []domain.Document) error
	Documents(identityID string, kind domain.CollectionKind) ([]domain.Document, bool, error)
}

type Config struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Engine is the catalog sync engine of one client session.
type Engine struct {
	feed      repository.ChangeFeed
	docs      repository.DocumentRepository
	buffer    usecase.OperationBuffer
	snapshots SnapshotStore
	metrics   Metrics
	logger    *zap.Logger
	cfg       Config

	nextID atomic.Uint64

	mu      sync.RWMutex
	view    domain.SessionView
	handles map[uint64]*Handle
	primary map[domain.CollectionKind]*Handle
}

func New(
	feed repository.ChangeFeed,
	docs repository.DocumentRepository,
	buf usecase.OperationBuffer,
	snapshots SnapshotStore,
	metrics Metrics,
	logger *zap.Logger,
	cfg Config,
) *Engine {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		feed:      feed,
		docs:      docs,
		buffer:    buf,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		handles:   make(map[uint64]*Handle),
		primary:   make(map[domain.CollectionKind]*Handle),
	}
}

// Activate tears down every existing subscription and opens one read model
// per collection visible to view.
func (e *Engine) Activate(ctx context.Context, view domain.SessionView) error {
	e.Deactivate()
	if !view.Active() {
		return nil
	}

	e.mu.Lock()
	e.view = view
	e.mu.Unlock()

	for kind, filter := range access.VisibleKinds(view) {
		h, err := e.open(ctx, view, kind, filter, nil)
		if err != nil {
			e.Deactivate()
			return err
		}
		e.mu.Lock()
		if e.view.Generation != view.Generation || e.view.IdentityID != view.IdentityID {
			e.mu.Unlock()
			h.Unsubscribe()
			return domain.ErrSuperseded
		}
		e.primary[kind] = h
		e.mu.Unlock()
	}
	e.logger.Info("catalog activated",
		zap.String("identity_id", view.IdentityID),
		zap.String("role", string(view.Role)))
	return nil
}

// Deactivate drops the session view and closes all handles.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.view = domain.SessionView{}
	e.primary = make(map[domain.CollectionKind]*Handle)
	e.mu.Unlock()

	for _, h := range handles {
		h.Unsubscribe()
	}
}

// View returns the session view the engine currently serves.
func (e *Engine) View() domain.SessionView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

// Subscribe opens an additional read model. The filter is narrowed to what the
// session may see.
func (e *Engine) Subscribe(ctx context.Context, kind domain.CollectionKind, filter repository.DocumentFilter, listener Listener) (*Handle, error) {
	view := e.View()
	allowed, ok := access.Visibility(view, kind)
	if !ok {
		return nil, domain.ErrForbidden
	}
	if filter.OwnerID != "" && allowed.OwnerID != "" && filter.OwnerID != allowed.OwnerID {
		return nil, domain.ErrForbidden
	}
	if allowed.OwnerID == "" {
		allowed.OwnerID = filter.OwnerID
	}
	allowed.Status = filter.Status
	return e.open(ctx, view, kind, allowed, listener)
}

// Items returns the session's primary read model for kind. stale is true while
// only offline data is available.
func (e *Engine) Items(kind domain.CollectionKind) (items []domain.Document, stale bool, err error) {
	e.mu.RLock()
	view := e.view
	h := e.primary[kind]
	e.mu.RUnlock()

	if _, ok := access.Visibility(view, kind); !ok {
		return nil, false, domain.ErrForbidden
	}
	if h == nil {
		return []domain.Document{}, true, nil
	}
	return h.Items(), h.Stale(), h.Err()
}

func (e *Engine) open(ctx context.Context, view domain.SessionView, kind domain.CollectionKind, filter repository.DocumentFilter, listener Listener) (*Handle, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:       e.nextID.Add(1),
		kind:     kind,
		filter:   filter,
		owner:    view.IdentityID,
		engine:   e,
		listener: listener,
		logger:   e.logger.With(zap.String("kind", string(kind)), zap.String("identity_id", view.IdentityID)),
		model:    NewReadModel(),
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
	}
	e.seed(h)

	sub, err := e.feed.Subscribe(ctx, filter, h.enqueue)
	if err != nil {
		if !domain.IsDomainError(err, domain.ErrCodeRemoteUnavailable) {
			cancel()
			return nil, err
		}
		// keep the handle; the supervisor retries in the background
		h.lastErr = err
		h.logger.Warn("initial subscribe failed", zap.Error(err))
		sub = nil
	}

	// the view may have been torn down or replaced while the feed was dialing
	e.mu.Lock()
	if !e.view.Active() || e.view.Generation != view.Generation || e.view.IdentityID != view.IdentityID {
		e.mu.Unlock()
		cancel()
		if sub != nil {
			_ = sub.Close()
		}
		return nil, domain.ErrSuperseded
	}
	e.handles[h.id] = h
	e.mu.Unlock()
	e.metrics.SubscriptionOpened()

	h.wg.Add(2)
	go h.applyLoop(runCtx)
	go h.supervise(runCtx, sub)
	return h, nil
}

func (e *Engine) forget(h *Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handles, h.id)
	if e.primary[h.kind] == h {
		delete(e.primary, h.kind)
	}
}

func (e *Engine) seed(h *Handle) {
	if e.snapshots == nil || h.owner == "" {
		return
	}
	docs, ok, err := e.snapshots.Documents(h.owner, h.kind)
	if err != nil {
		h.logger.Debug("offline snapshot unavailable", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	matching := docs[:0:0]
	for _, doc := range docs {
		if h.filter.Match(doc) {
			matching = append(matching, doc)
		}
	}
	h.model.Seed(matching)
}

func (e *Engine) saveSnapshot(owner string, filter repository.DocumentFilter, items []domain.Document) {
	// only unfiltered-by-status primary views are worth restoring
	if e.snapshots == nil || owner == "" || filter.Status != "" {
		return
	}
	if err := e.snapshots.Save(owner, filter.Kind, items); err != nil {
		e.logger.Debug("failed to save offline snapshot", zap.Error(err))
	}
}

// Create writes a new document owned by the session identity. With an
// idempotency key the id is derived from the key and a failed write is
// buffered for replay instead of surfaced.
func (e *Engine) Create(ctx context.Context, kind domain.CollectionKind, payload json.RawMessage, idempotencyKey string) (*domain.Document, error) {
	view := e.View()
	if !view.Active() || !view.Capabilities.CanCreate(kind) {
		e.metrics.WriteFailed(kind, domain.ErrCodeForbidden)
		return nil, domain.ErrForbidden
	}

	doc := &domain.Document{
		ID:      uuid.NewString(),
		Kind:    kind,
		OwnerID: view.IdentityID,
		Payload: payload,
	}
	if idempotencyKey != "" {
		doc.ID = DocumentID(view.IdentityID, idempotencyKey)
	}
	if kind.HasStatus() {
		doc.Status = domain.StatusPending
	}
	doc.Touch()

	if err := domain.ValidateDocument(*doc); err != nil {
		e.metrics.WriteFailed(kind, domain.CodeOf(err))
		return nil, err
	}

	if err := e.docs.Insert(ctx, doc); err != nil {
		if idempotencyKey != "" && e.buffer != nil && domain.IsDomainError(err, domain.ErrCodeRemoteUnavailable) {
			bufErr := e.buffer.BufferDocument(ctx, usecase.OperationCreate, doc, idempotencyKey)
			if bufErr == nil {
				e.logger.Warn("catalog write buffered", zap.String("document_id", doc.ID), zap.Error(err))
				return doc, nil
			}
			e.logger.Error("failed to buffer catalog write", zap.Error(bufErr))
		}
		e.metrics.WriteFailed(kind, domain.CodeOf(err))
		return nil, err
	}

	e.audit(ctx, doc, "created", view.IdentityID)
	return doc, nil
}

// Remove deletes a document owned by the session identity, or any document for
// a moderator.
func (e *Engine) Remove(ctx context.Context, kind domain.CollectionKind, id string) error {
	view := e.View()
	if !view.Active() {
		return domain.ErrForbidden
	}
	doc, err := e.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.Kind != kind {
		return domain.ErrDocumentNotFound
	}
	if !access.CanRemove(view, *doc) {
		e.metrics.WriteFailed(kind, domain.ErrCodeForbidden)
		return domain.ErrForbidden
	}
	if err := e.docs.Delete(ctx, id); err != nil {
		e.metrics.WriteFailed(kind, domain.CodeOf(err))
		return err
	}
	e.audit(ctx, doc, "removed", view.IdentityID)
	return nil
}

// UpdateStatus moves a request through its lifecycle. Only moderators may do
// this. Repeating the current terminal status is a no-op and reports
// changed=false.
func (e *Engine) UpdateStatus(ctx context.Context, kind domain.CollectionKind, id string, next domain.Status) (*domain.Document, bool, error) {
	if !kind.HasStatus() {
		return nil, false, domain.WrapError(domain.ErrCodeValidation, string(kind)+" has no status", nil)
	}
	view := e.View()
	if !view.Active() || !view.Capabilities.CanModerate {
		e.metrics.WriteFailed(kind, domain.ErrCodeForbidden)
		return nil, false, domain.ErrForbidden
	}

	// one retry covers a concurrent moderator racing us on the same document
	for attempt := 0; attempt < 2; attempt++ {
		current, err := e.docs.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if current.Kind != kind {
			return nil, false, domain.ErrDocumentNotFound
		}
		move, err := domain.Transition(current.Status, next)
		if err != nil {
			e.metrics.WriteFailed(kind, domain.CodeOf(err))
			return nil, false, err
		}
		if !move {
			return current, false, nil
		}
		updated, err := e.docs.UpdateStatus(ctx, id, current.Status, next)
		if errors.Is(err, domain.ErrStaleWrite) {
			continue
		}
		if err != nil {
			e.metrics.WriteFailed(kind, domain.CodeOf(err))
			return nil, false, err
		}
		e.audit(ctx, updated, "status."+string(next), view.IdentityID)
		return updated, true, nil
	}
	e.metrics.WriteFailed(kind, domain.ErrCodeConflict)
	return nil, false, domain.ErrStaleWrite
}

// Lookup returns a document from the session's read model, falling back to the
// store.
func (e *Engine) Lookup(ctx context.Context, kind domain.CollectionKind, id string) (*domain.Document, error) {
	e.mu.RLock()
	view := e.view
	h := e.primary[kind]
	e.mu.RUnlock()

	filter, ok := access.Visibility(view, kind)
	if !ok {
		return nil, domain.ErrForbidden
	}
	if h != nil {
		if doc, found := h.get(id); found {
			return &doc, nil
		}
	}
	doc, err := e.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !filter.Match(*doc) {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

func (e *Engine) audit(ctx context.Context, doc *domain.Document, name, actor string) {
	err := e.docs.AppendEvent(ctx, domain.Event{
		DocumentID: doc.ID,
		Name:       name,
		Version:    doc.Version,
		ActorID:    actor,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		e.logger.Warn("failed to append document event", zap.String("document_id", doc.ID), zap.Error(err))
	}
}

// DocumentID derives the document id for an idempotent write.
func DocumentID(identityID, idempotencyKey string) string {
	return uuid.NewSHA1(idempotentNamespace, []byte(identityID+"/"+idempotencyKey)).String()
}

type nopMetrics struct{}

func (nopMetrics) EventApplied(domain.CollectionKind, domain.ChangeType) {}
func (nopMetrics) EventIgnored(domain.CollectionKind) {}
func (nopMetrics) Resubscribed(domain.CollectionKind) {}
func (nopMetrics) WriteFailed(domain.CollectionKind, domain.ErrorCode) {}
func (nopMetrics) SubscriptionOpened() {}
func (nopMetrics) SubscriptionClosed() {}
