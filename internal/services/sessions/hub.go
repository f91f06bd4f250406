// Package sessions maps bearer sessions onto live client sessions and expires
// them on a schedule.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/internal/services/identity"
	"github.com/fastygo/agriconnect/usecase/session"
)

const resumeTimeout = 10 * time.Second

type Config struct {
	SweepInterval time.Duration
	// IdleTimeout detaches clients that made no request for this long. The
	// bearer session survives and is resumed on the next request.
	IdleTimeout time.Duration
}

type Metrics interface {
	SessionsActive(n int)
}

// Client is one signed-in client: its gateway and the session composed on it.
type Client struct {
	Gateway *identity.Gateway
	Session *session.Session

	mu       sync.Mutex
	lastSeen time.Time
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *Client) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSeen)
}

type Hub struct {
	provider *identity.Provider
	deps     session.Dependencies
	scfg     session.Config
	metrics  Metrics
	logger   *zap.Logger
	cfg      Config
	cron     *cron.Cron
	resolve  singleflight.Group

	mu      sync.Mutex
	clients map[string]*Client
}

func New(provider *identity.Provider, deps session.Dependencies, scfg session.Config, metrics Metrics, logger *zap.Logger, cfg Config) *Hub {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}

	h := &Hub{
		provider: provider,
		deps:     deps,
		scfg:     scfg,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		cron:     cron.New(cron.WithSeconds()),
		clients:  make(map[string]*Client),
	}
	schedule := fmt.Sprintf("@every %ds", int(cfg.SweepInterval.Seconds()))
	_, _ = h.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SweepInterval)
		defer cancel()
		h.Sweep(ctx, time.Now())
	})
	return h
}

// Open returns a fresh signed-out client that is not tracked by the hub.
func (h *Hub) Open() *Client {
	gateway := h.provider.NewGateway()
	return &Client{
		Gateway:  gateway,
		Session:  session.New(gateway, h.deps, h.scfg),
		lastSeen: time.Now(),
	}
}

// Register runs a registration on a throwaway client. The new identity is
// never left signed in.
func (h *Hub) Register(ctx context.Context, reg domain.Registration) (*domain.Profile, error) {
	c := h.Open()
	defer c.Session.Close()
	return c.Session.Admission.Register(ctx, reg)
}

// SignIn authenticates on a new client and tracks it under its session id when
// admission grants access. The returned token is empty otherwise.
func (h *Hub) SignIn(ctx context.Context, email, password string) (*Client, string, domain.SessionView, error) {
	c := h.Open()
	view, err := c.Session.Admission.SignIn(ctx, email, password)
	if err != nil {
		c.Session.Close()
		return nil, "", view, err
	}
	sess := c.Gateway.Session()
	if sess == nil || !view.Active() {
		c.Session.Close()
		return nil, "", view, domain.ErrUnauthorized
	}
	token, err := h.provider.Token(sess)
	if err != nil {
		_, _ = c.Session.Admission.SignOut(ctx)
		c.Session.Close()
		return nil, "", view, domain.WrapError(domain.ErrCodeInternal, "issue token", err)
	}
	h.track(sess.ID, c)
	return c, token, view, nil
}

// Resolve returns the live client for a bearer session, resuming it when the
// hub has none. A session whose admission no longer grants access is refused.
func (h *Hub) Resolve(ctx context.Context, sessionID string) (*Client, error) {
	if c := h.lookup(sessionID); c != nil {
		c.touch(time.Now())
		return c, nil
	}

	// shared by concurrent callers; detached from the one that started it
	ch := h.resolve.DoChan(sessionID, func() (interface{}, error) {
		if c := h.lookup(sessionID); c != nil {
			return c, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resumeTimeout)
		defer cancel()
		sess, err := h.provider.Session(rctx, sessionID)
		if err != nil {
			if domain.IsDomainError(err, domain.ErrCodeNotFound) {
				return nil, domain.ErrUnauthorized
			}
			return nil, err
		}
		c := h.Open()
		c.Gateway.Resume(sess)
		view := c.Session.View()
		if !view.Active() {
			c.Session.Close()
			return nil, refusal(view.State)
		}
		h.track(sessionID, c)
		return c, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	}
}

// SignOut ends the bearer session and discards its client.
func (h *Hub) SignOut(ctx context.Context, sessionID string) error {
	c := h.untrack(sessionID)
	if c == nil {
		c = h.Open()
		sess, err := h.provider.Session(ctx, sessionID)
		if err != nil {
			c.Session.Close()
			if domain.IsDomainError(err, domain.ErrCodeNotFound) {
				return nil
			}
			return err
		}
		c.Gateway.Resume(sess)
	}
	defer c.Session.Close()
	_, err := c.Session.Admission.SignOut(ctx)
	return err
}

// Sweep drops clients whose session expired or was revoked, and detaches idle
// ones.
func (h *Hub) Sweep(ctx context.Context, now time.Time) int {
	h.mu.Lock()
	snapshot := make(map[string]*Client, len(h.clients))
	for id, c := range h.clients {
		snapshot[id] = c
	}
	h.mu.Unlock()

	removed := 0
	for id, c := range snapshot {
		expired := c.Gateway.Expire(ctx, now)
		idle := c.idleSince(now) > h.cfg.IdleTimeout
		if !expired && !idle {
			continue
		}
		if h.untrack(id) == c {
			c.Session.Close()
			removed++
			h.logger.Debug("client session dropped",
				zap.String("session_id", id), zap.Bool("expired", expired), zap.Bool("idle", idle))
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Start() {
	h.cron.Start()
	h.logger.Info("session hub started")
}

// Stop halts the sweep and closes every client. Bearer sessions stay valid.
func (h *Hub) Stop(ctx context.Context) {
	stopCtx := h.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range clients {
		c.Session.Close()
	}
	h.report(0)
	h.logger.Info("session hub stopped", zap.Int("closed", len(clients)))
}

func (h *Hub) lookup(sessionID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[sessionID]
}

func (h *Hub) track(sessionID string, c *Client) {
	h.mu.Lock()
	previous := h.clients[sessionID]
	h.clients[sessionID] = c
	n := len(h.clients)
	h.mu.Unlock()
	if previous != nil && previous != c {
		previous.Session.Close()
	}
	h.report(n)
}

func (h *Hub) untrack(sessionID string) *Client {
	h.mu.Lock()
	c := h.clients[sessionID]
	delete(h.clients, sessionID)
	n := len(h.clients)
	h.mu.Unlock()
	h.report(n)
	return c
}

func (h *Hub) report(n int) {
	if h.metrics != nil {
		h.metrics.SessionsActive(n)
	}
}

func refusal(state domain.AdmissionState) error {
	switch state {
	case domain.AdmissionRegistered:
		return domain.ErrPendingConfirmation
	case domain.AdmissionRejected:
		return domain.ErrAccountRejected
	default:
		return domain.ErrUnauthorized
	}
}
