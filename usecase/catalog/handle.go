package catalog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

// Listener receives the full ordered item list after every change that
// altered a read model. It must not call back into the handle.
type Listener func(kind domain.CollectionKind, items []domain.Document)

// Handle is one live subscription with its own read model. Events are applied
// by a single goroutine in delivery order.
type Handle struct {
	id       uint64
	kind     domain.CollectionKind
	filter   repository.DocumentFilter
	owner    string
	engine   *Engine
	listener Listener
	logger   *zap.Logger

	mu      sync.Mutex
	model   *ReadModel
	closed  bool
	lastErr error

	// held while a listener runs so Unsubscribe can wait it out
	cbMu sync.Mutex

	queueMu sync.Mutex
	queue   []domain.ChangeEvent
	wake    chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (h *Handle) Kind() domain.CollectionKind {
	return h.kind
}

func (h *Handle) Filter() repository.DocumentFilter {
	return h.filter
}

// Items returns a copy of the read model ordered by creation.
func (h *Handle) Items() []domain.Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model.Items()
}

// Stale reports whether the items only come from an offline snapshot.
func (h *Handle) Stale() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model.Stale() || !h.model.Synced()
}

// Err returns the last feed failure, or nil while the feed is healthy.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *Handle) get(id string) (domain.Document, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model.Get(id)
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

// Unsubscribe stops delivery. No listener call starts after it returns.
func (h *Handle) Unsubscribe() {
	h.cbMu.Lock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.cbMu.Unlock()
		return
	}
	h.closed = true
	items := h.model.Items()
	synced := h.model.Synced()
	h.mu.Unlock()
	h.cbMu.Unlock()

	h.cancel()
	h.wg.Wait()

	if synced {
		h.engine.saveSnapshot(h.owner, h.filter, items)
	}
	h.engine.forget(h)
	h.engine.metrics.SubscriptionClosed()
}

func (h *Handle) enqueue(event domain.ChangeEvent) {
	h.queueMu.Lock()
	h.queue = append(h.queue, event)
	h.queueMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) drain() []domain.ChangeEvent {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	events := h.queue
	h.queue = nil
	return events
}

func (h *Handle) applyLoop(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			for _, event := range h.drain() {
				if ctx.Err() != nil {
					return
				}
				h.apply(event)
			}
		}
	}
}

func (h *Handle) apply(event domain.ChangeEvent) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	changed := h.model.Apply(event)
	var items []domain.Document
	if changed && (h.listener != nil || event.Type == domain.ChangeSnapshot) {
		items = h.model.Items()
	}
	h.mu.Unlock()

	if !changed {
		h.engine.metrics.EventIgnored(h.kind)
		return
	}
	h.engine.metrics.EventApplied(h.kind, event.Type)
	if event.Type == domain.ChangeSnapshot {
		h.engine.saveSnapshot(h.owner, h.filter, items)
	}
	if h.listener == nil {
		return
	}

	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	if h.isClosed() {
		return
	}
	h.listener(h.kind, items)
}

// supervise keeps the feed subscription alive, resubscribing with exponential
// backoff whenever it drops.
func (h *Handle) supervise(ctx context.Context, sub repository.FeedSubscription) {
	defer h.wg.Done()
	cfg := h.engine.cfg
	backoff := cfg.MinBackoff

	for {
		if sub == nil {
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, cfg.MaxBackoff)
			h.engine.metrics.Resubscribed(h.kind)

			var err error
			sub, err = h.engine.feed.Subscribe(ctx, h.filter, h.enqueue)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.setErr(err)
				h.logger.Warn("resubscribe failed", zap.Duration("retry_in", backoff), zap.Error(err))
				continue
			}
			h.setErr(nil)
			backoff = cfg.MinBackoff
			h.logger.Info("change feed resubscribed")
		}

		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case <-sub.Done():
			err := sub.Err()
			if err == nil {
				err = domain.ErrRemoteUnavailable
			}
			h.setErr(err)
			h.logger.Warn("change feed lost", zap.Error(err))
			sub = nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}
