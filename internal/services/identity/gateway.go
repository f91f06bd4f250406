package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/usecase"
)

var _ usecase.IdentityGateway = (*Gateway)(nil)

// Gateway is the per-client view of the provider. Listeners run synchronously
// on the goroutine that caused the change and never under the gateway lock,
// so they may call back into the gateway.
type Gateway struct {
	provider *Provider

	mu           sync.Mutex
	current      *domain.Identity
	session      *domain.Session
	listeners    map[uint64]func(*domain.Identity)
	nextListener uint64
}

func (g *Gateway) CreateIdentity(ctx context.Context, email, password string) (*domain.Identity, error) {
	return g.provider.createIdentity(ctx, email, password)
}

func (g *Gateway) DeleteIdentity(ctx context.Context, identityID string) error {
	return g.provider.deleteIdentity(ctx, identityID)
}

// Authenticate opens a new session and makes its identity current. A session
// that was current before is ended.
func (g *Gateway) Authenticate(ctx context.Context, email, password string) (*domain.Identity, error) {
	session, err := g.provider.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	previous := g.swap(session)
	if previous != nil && previous.ID != session.ID {
		_ = g.provider.endSession(ctx, previous.ID)
	}
	identity := identityOf(session)
	g.emit(identity)
	return identity, nil
}

// Resume makes an existing session current without re-authenticating.
func (g *Gateway) Resume(session *domain.Session) {
	if session == nil {
		return
	}
	g.mu.Lock()
	if g.session != nil && g.session.ID == session.ID {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.swap(session)
	g.emit(identityOf(session))
}

func (g *Gateway) SignOut(ctx context.Context) error {
	previous := g.swap(nil)
	if previous == nil {
		return nil
	}
	err := g.provider.endSession(ctx, previous.ID)
	g.emit(nil)
	return err
}

// Expire drops the current identity once its session has expired or was
// revoked from the store. It reports whether it signed the client out.
func (g *Gateway) Expire(ctx context.Context, now time.Time) bool {
	g.mu.Lock()
	session := g.session
	g.mu.Unlock()
	if session == nil {
		return false
	}
	if !session.IsExpired(now) {
		if _, err := g.provider.Session(ctx, session.ID); err == nil || !domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return false
		}
	}

	g.mu.Lock()
	if g.session == nil || g.session.ID != session.ID {
		g.mu.Unlock()
		return false
	}
	g.session = nil
	g.current = nil
	g.mu.Unlock()

	_ = g.provider.endSession(ctx, session.ID)
	g.emit(nil)
	return true
}

func (g *Gateway) Current() *domain.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil
	}
	identity := *g.current
	return &identity
}

// Session returns a copy of the current session.
func (g *Gateway) Session() *domain.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	session := *g.session
	return &session
}

func (g *Gateway) OnIdentityChanged(listener func(*domain.Identity)) func() {
	g.mu.Lock()
	g.nextListener++
	id := g.nextListener
	g.listeners[id] = listener
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

func (g *Gateway) swap(session *domain.Session) *domain.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	previous := g.session
	g.session = session
	g.current = identityOf(session)
	return previous
}

func (g *Gateway) emit(identity *domain.Identity) {
	g.mu.Lock()
	ids := make([]uint64, 0, len(g.listeners))
	for id := range g.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]func(*domain.Identity), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, g.listeners[id])
	}
	g.mu.Unlock()

	for _, listener := range listeners {
		var copied *domain.Identity
		if identity != nil {
			c := *identity
			copied = &c
		}
		listener(copied)
	}
}

func identityOf(session *domain.Session) *domain.Identity {
	if session == nil {
		return nil
	}
	return &domain.Identity{
		ID:        session.UserID,
		Email:     session.Email,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	}
}
