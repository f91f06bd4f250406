// Package admission decides, per identity, whether a session is granted,
// pending or denied, and mediates admin confirm/reject actions.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
	"github.com/fastygo/agriconnect/usecase"
	"github.com/fastygo/agriconnect/usecase/access"
)

// Activator opens and tears down role-filtered catalog subscriptions.
type Activator interface {
	Activate(ctx context.Context, view domain.SessionView) error
	Deactivate()
}

type Metrics interface {
	AdmissionDecided(state domain.AdmissionState)
}

type Config struct {
	// CheckTimeout bounds the profile read behind every identity change.
	CheckTimeout time.Duration
	PendingLimit int
}

type decision struct {
	generation uint64
	identityID string
	view       domain.SessionView
	err        error
}

// Machine is the admission state machine of one client session. It listens to
// the gateway's identity changes; each change bumps a generation counter,
// cancels the check in flight and only the newest generation may apply.
type Machine struct {
	gateway   usecase.IdentityGateway
	profiles  repository.ProfileRepository
	activator Activator
	push      usecase.PushTokenIssuer
	publisher usecase.EventPublisher
	metrics   Metrics
	logger    *zap.Logger
	cfg       Config

	mu          sync.Mutex
	generation  uint64
	cancelCheck context.CancelFunc
	view        domain.SessionView
	last        decision

	// serializes Activate/Deactivate against generation changes
	activateMu sync.Mutex

	unsubscribe func()
}

func New(
	gateway usecase.IdentityGateway,
	profiles repository.ProfileRepository,
	activator Activator,
	push usecase.PushTokenIssuer,
	publisher usecase.EventPublisher,
	metrics Metrics,
	logger *zap.Logger,
	cfg Config,
) *Machine {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 10 * time.Second
	}
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if activator == nil {
		activator = nopActivator{}
	}
	m := &Machine{
		gateway:   gateway,
		profiles:  profiles,
		activator: activator,
		push:      push,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		view:      domain.SessionView{State: domain.AdmissionUnauthenticated},
	}
	m.unsubscribe = gateway.OnIdentityChanged(m.onIdentityChanged)
	return m
}

// View returns the current session view. It never carries capabilities
// unless the latest admission decision granted them.
func (m *Machine) View() domain.SessionView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Register creates an identity and its unconfirmed profile.
func (m *Machine) Register(ctx context.Context, reg domain.Registration) (*domain.Profile, error) {
	if role, ok := domain.ParseRole(string(reg.Role)); ok {
		reg.Role = role
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	identity, err := m.gateway.CreateIdentity(ctx, reg.Email, reg.Password)
	if err != nil {
		return nil, err
	}

	profile := &domain.Profile{
		IdentityID: identity.ID,
		Email:      identity.Email,
		Role:       reg.Role,
		Confirmed:  false,
	}
	if err := m.writeProfile(ctx, profile); err != nil {
		m.logger.Error("profile write failed after identity creation",
			zap.String("identity_id", identity.ID), zap.Error(err))
		if delErr := m.gateway.DeleteIdentity(ctx, identity.ID); delErr != nil {
			m.logger.Error("identity rollback failed", zap.String("identity_id", identity.ID), zap.Error(delErr))
			return nil, domain.WrapError(domain.ErrCodePartialRegistration,
				"account created but profile could not be stored; contact support", errors.Join(err, delErr))
		}
		return nil, domain.WrapError(domain.ErrCodePersistenceUnavailable, "registration could not be stored, please retry", err)
	}

	if current := m.gateway.Current(); current != nil && current.ID == identity.ID {
		if err := m.gateway.SignOut(ctx); err != nil {
			m.logger.Warn("failed to sign out new identity", zap.Error(err))
		}
	}

	m.observe(domain.AdmissionRegistered)
	m.notify(ctx, usecase.TopicProfileRegistered, profile)
	m.logger.Info("identity registered", zap.String("identity_id", identity.ID), zap.String("role", string(profile.Role)))
	return profile, nil
}

func (m *Machine) writeProfile(ctx context.Context, profile *domain.Profile) error {
	err := m.profiles.Put(ctx, profile)
	if err == nil {
		return nil
	}
	m.logger.Warn("profile write failed, retrying once", zap.Error(err))
	return m.profiles.Put(ctx, profile)
}

// SignIn authenticates and returns the admission decision for the identity.
func (m *Machine) SignIn(ctx context.Context, email, password string) (domain.SessionView, error) {
	identity, err := m.gateway.Authenticate(ctx, email, password)
	if err != nil {
		return m.View(), err
	}
	return m.decisionFor(identity.ID)
}

// Refresh re-runs the admission check for the current identity, e.g. after an
// admin confirmed it.
func (m *Machine) Refresh(ctx context.Context) (domain.SessionView, error) {
	identity := m.gateway.Current()
	if identity == nil {
		m.onIdentityChanged(nil)
		return m.View(), domain.ErrUnauthorized
	}
	m.onIdentityChanged(identity)
	return m.decisionFor(identity.ID)
}

// SignOut ends the session; subscriptions are torn down before it returns.
func (m *Machine) SignOut(ctx context.Context) (domain.SessionView, error) {
	err := m.gateway.SignOut(ctx)
	if err != nil {
		// still fail closed locally
		m.onIdentityChanged(nil)
	}
	return m.View(), err
}

// Close detaches from the gateway and drops all access.
func (m *Machine) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.onIdentityChanged(nil)
}

func (m *Machine) decisionFor(identityID string) (domain.SessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last.identityID != identityID {
		return m.view, domain.ErrSuperseded
	}
	return m.last.view, m.last.err
}

func (m *Machine) onIdentityChanged(identity *domain.Identity) {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	if m.cancelCheck != nil {
		m.cancelCheck()
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckTimeout)
	m.cancelCheck = cancel
	m.view = domain.SessionView{State: domain.AdmissionUnauthenticated, Generation: gen}
	m.mu.Unlock()
	defer cancel()

	m.activateMu.Lock()
	m.activator.Deactivate()
	m.activateMu.Unlock()

	if identity == nil {
		m.observe(domain.AdmissionUnauthenticated)
		return
	}

	view, err := m.check(ctx, gen, identity)
	if errors.Is(err, domain.ErrSuperseded) {
		m.logger.Debug("stale admission result dropped",
			zap.String("identity_id", identity.ID), zap.Uint64("generation", gen))
		return
	}
	m.mu.Lock()
	if gen >= m.last.generation {
		m.last = decision{generation: gen, identityID: identity.ID, view: view, err: err}
	}
	m.mu.Unlock()
}

func (m *Machine) check(ctx context.Context, gen uint64, identity *domain.Identity) (domain.SessionView, error) {
	profile, err := m.profiles.Get(ctx, identity.ID)
	if ctx.Err() != nil || !m.isCurrent(gen) {
		return domain.SessionView{}, domain.ErrSuperseded
	}
	if errors.Is(err, domain.ErrProfileNotFound) {
		view := access.Derive(identity, nil, gen)
		return m.force(ctx, gen, view, domain.ErrProfileMissing)
	}
	if err != nil {
		view := access.Derive(identity, nil, gen)
		if !m.apply(gen, view) {
			return domain.SessionView{}, domain.ErrSuperseded
		}
		return view, domain.WrapError(domain.ErrCodeRemoteUnavailable, "profile store unavailable", err)
	}

	view := access.Derive(identity, profile, gen)
	switch view.State {
	case domain.AdmissionRegistered:
		return m.force(ctx, gen, view, domain.ErrPendingConfirmation)
	case domain.AdmissionRejected:
		return m.force(ctx, gen, view, domain.ErrAccountRejected)
	}

	m.activateMu.Lock()
	if !m.apply(gen, view) {
		m.activateMu.Unlock()
		return domain.SessionView{}, domain.ErrSuperseded
	}
	err = m.activator.Activate(ctx, view)
	m.activateMu.Unlock()
	if err != nil {
		if !m.isCurrent(gen) {
			return domain.SessionView{}, domain.ErrSuperseded
		}
		m.logger.Error("catalog activation failed", zap.String("identity_id", identity.ID), zap.Error(err))
		return view, err
	}

	m.refreshContactToken(ctx, profile)
	m.logger.Info("session admitted",
		zap.String("identity_id", identity.ID),
		zap.String("role", string(view.Role)),
		zap.Uint64("generation", gen))
	return view, nil
}

// force records a denying decision and signs the identity out with a reason.
func (m *Machine) force(ctx context.Context, gen uint64, view domain.SessionView, reason error) (domain.SessionView, error) {
	if !m.apply(gen, view) {
		return domain.SessionView{}, domain.ErrSuperseded
	}
	m.logger.Info("forcing sign-out",
		zap.String("identity_id", view.IdentityID),
		zap.String("reason", string(domain.CodeOf(reason))))
	if err := m.gateway.SignOut(ctx); err != nil {
		m.logger.Warn("forced sign-out failed", zap.Error(err))
	}
	return view, reason
}

func (m *Machine) apply(gen uint64, view domain.SessionView) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	m.view = view
	m.mu.Unlock()
	m.observe(view.State)
	return true
}

func (m *Machine) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Machine) refreshContactToken(ctx context.Context, profile *domain.Profile) {
	if m.push == nil {
		return
	}
	token, err := m.push.RequestToken(ctx, profile.IdentityID)
	if err != nil || token == "" || token == profile.ContactToken {
		if err != nil {
			m.logger.Debug("push token unavailable", zap.Error(err))
		}
		return
	}
	if _, err := m.profiles.Patch(ctx, profile.IdentityID, domain.ProfilePatch{ContactToken: &token}); err != nil {
		m.logger.Warn("failed to store contact token", zap.Error(err))
	}
}

func (m *Machine) observe(state domain.AdmissionState) {
	if m.metrics != nil {
		m.metrics.AdmissionDecided(state)
	}
}

func (m *Machine) notify(ctx context.Context, topic string, v any) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, topic, v); err != nil {
		m.logger.Warn("notification not published", zap.String("topic", topic), zap.Error(err))
	}
}

type nopActivator struct{}

func (nopActivator) Activate(context.Context, domain.SessionView) error { return nil }
func (nopActivator) Deactivate() {}
