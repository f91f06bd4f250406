package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/internal/services/identity"
	"github.com/fastygo/agriconnect/repository"
	"github.com/fastygo/agriconnect/repository/memory"
)

type recordingActivator struct {
	mu          sync.Mutex
	activated   []domain.SessionView
	deactivated int
}

func (r *recordingActivator) Activate(ctx context.Context, view domain.SessionView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated = append(r.activated, view)
	return nil
}

func (r *recordingActivator) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivated++
}

func (r *recordingActivator) last() (domain.SessionView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.activated) == 0 {
		return domain.SessionView{}, false
	}
	return r.activated[len(r.activated)-1], true
}

type fixture struct {
	provider *identity.Provider
	profiles *memory.Profiles
}

func newFixture() *fixture {
	return &fixture{
		provider: identity.NewProvider(memory.NewCredentials(), memory.NewSessions(), identity.NewTokenIssuer("secret", "test"), nil, identity.Config{
			SessionTTL:        time.Hour,
			BcryptCost:        bcrypt.MinCost,
			MinPasswordLength: 6,
		}),
		profiles: memory.NewProfiles(),
	}
}

func (f *fixture) machine(t *testing.T, profiles repository.ProfileRepository) (*Machine, *identity.Gateway, *recordingActivator) {
	t.Helper()
	if profiles == nil {
		profiles = f.profiles
	}
	gateway := f.provider.NewGateway()
	activator := &recordingActivator{}
	m := New(gateway, profiles, activator, nil, nil, nil, nil, Config{CheckTimeout: time.Second})
	t.Cleanup(m.Close)
	return m, gateway, activator
}

func (f *fixture) admin(t *testing.T) *Machine {
	t.Helper()
	ctx := context.Background()
	m, gateway, _ := f.machine(t, nil)
	id, err := gateway.CreateIdentity(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
	require.NoError(t, f.profiles.Put(ctx, &domain.Profile{IdentityID: id.ID, Email: id.Email, Role: domain.RoleAdmin, Confirmed: true}))
	view, err := m.SignIn(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
	require.True(t, view.Capabilities.CanModerate)
	return m
}

func TestRegisterValidatesRole(t *testing.T) {
	f := newFixture()
	m, _, _ := f.machine(t, nil)
	ctx := context.Background()

	_, err := m.Register(ctx, domain.Registration{Email: "x@example.com", Password: "secret1", Role: domain.RoleAdmin})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeValidation))

	_, err = m.Register(ctx, domain.Registration{Email: "not-an-email", Password: "secret1", Role: domain.RoleFarmer})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeValidation))

	_, err = m.Register(ctx, domain.Registration{Email: "x@example.com", Password: "123", Role: domain.RoleFarmer})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeWeakCredential))

	_, err = m.Register(ctx, domain.Registration{Email: "x@example.com", Password: "secret1", Role: "Farmer"})
	require.NoError(t, err)
	_, err = m.Register(ctx, domain.Registration{Email: "x@example.com", Password: "secret1", Role: domain.RoleBuyer})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeDuplicateIdentity))
}

func TestRegisterThenSignInIsPendingUntilConfirmed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m, gateway, activator := f.machine(t, nil)

	profile, err := m.Register(ctx, domain.Registration{Email: "farmer@example.com", Password: "secret1", Role: domain.RoleFarmer})
	require.NoError(t, err)
	assert.False(t, profile.Confirmed)

	view, err := m.SignIn(ctx, "farmer@example.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrPendingConfirmation)
	assert.Equal(t, domain.AdmissionRegistered, view.State)
	assert.Equal(t, domain.Capabilities{}, view.Capabilities)
	assert.Nil(t, gateway.Current(), "pending identities are signed out")
	assert.False(t, m.View().Active())
	_, activated := activator.last()
	assert.False(t, activated)

	admin := f.admin(t)
	pending, err := admin.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, profile.IdentityID, pending[0].IdentityID)

	confirmed, err := admin.Confirm(ctx, profile.IdentityID)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)

	view, err = m.SignIn(ctx, "farmer@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionConfirmed, view.State)
	assert.True(t, view.Capabilities.CanCreateProduct)
	last, ok := activator.last()
	require.True(t, ok)
	assert.Equal(t, profile.IdentityID, last.IdentityID)

	view, err = m.SignOut(ctx)
	require.NoError(t, err)
	assert.False(t, view.Active())
	assert.Equal(t, domain.AdmissionUnauthenticated, view.State)
}

func TestConfirmAndRejectTransitions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m, _, _ := f.machine(t, nil)
	admin := f.admin(t)

	a, err := m.Register(ctx, domain.Registration{Email: "a@example.com", Password: "secret1", Role: domain.RoleFarmer})
	require.NoError(t, err)
	b, err := m.Register(ctx, domain.Registration{Email: "b@example.com", Password: "secret1", Role: domain.RoleBuyer})
	require.NoError(t, err)

	first, err := admin.Confirm(ctx, a.IdentityID)
	require.NoError(t, err)
	second, err := admin.Confirm(ctx, a.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, first.Confirmed, second.Confirmed)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	_, err = admin.Reject(ctx, a.IdentityID)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalidTransition))

	rejected, err := admin.Reject(ctx, b.IdentityID)
	require.NoError(t, err)
	require.NotNil(t, rejected.RejectedAt)
	again, err := admin.Reject(ctx, b.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, rejected.RejectedAt, again.RejectedAt)

	_, err = admin.Confirm(ctx, b.IdentityID)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalidTransition))

	_, err = m.SignIn(ctx, "b@example.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrAccountRejected)

	_, err = admin.Confirm(ctx, "missing")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeNotFound))

	pending, err := admin.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestModerationRequiresAdmin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m, _, _ := f.machine(t, nil)
	admin := f.admin(t)

	p, err := m.Register(ctx, domain.Registration{Email: "f@example.com", Password: "secret1", Role: domain.RoleFarmer})
	require.NoError(t, err)
	_, err = admin.Confirm(ctx, p.IdentityID)
	require.NoError(t, err)
	_, err = m.SignIn(ctx, "f@example.com", "secret1")
	require.NoError(t, err)

	_, err = m.Confirm(ctx, p.IdentityID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = m.Reject(ctx, p.IdentityID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = m.ListPending(ctx)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSignInWithoutProfile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m, gateway, _ := f.machine(t, nil)

	_, err := gateway.CreateIdentity(ctx, "ghost@example.com", "secret1")
	require.NoError(t, err)

	_, err = m.SignIn(ctx, "ghost@example.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrProfileMissing)
	assert.Nil(t, gateway.Current())

	_, err = m.SignIn(ctx, "ghost@example.com", "wrong-pass")
	assert.ErrorIs(t, err, domain.ErrAuthFailure)
}

type flakyProfiles struct {
	*memory.Profiles
	mu       sync.Mutex
	failPuts int
}

func (f *flakyProfiles) Put(ctx context.Context, profile *domain.Profile) error {
	f.mu.Lock()
	if f.failPuts > 0 {
		f.failPuts--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.Profiles.Put(ctx, profile)
}

type undeletableGateway struct {
	*identity.Gateway
}

func (undeletableGateway) DeleteIdentity(context.Context, string) error {
	return domain.ErrDeleteUnsupported
}

func TestRegisterProfileWriteFailures(t *testing.T) {
	ctx := context.Background()
	reg := domain.Registration{Email: "f@example.com", Password: "secret1", Role: domain.RoleFarmer}

	t.Run("retried once", func(t *testing.T) {
		f := newFixture()
		m, _, _ := f.machine(t, &flakyProfiles{Profiles: f.profiles, failPuts: 1})
		_, err := m.Register(ctx, reg)
		require.NoError(t, err)
	})

	t.Run("identity rolled back", func(t *testing.T) {
		f := newFixture()
		m, gateway, _ := f.machine(t, &flakyProfiles{Profiles: f.profiles, failPuts: 2})
		_, err := m.Register(ctx, reg)
		assert.True(t, domain.IsDomainError(err, domain.ErrCodePersistenceUnavailable))

		_, err = gateway.Authenticate(ctx, reg.Email, reg.Password)
		assert.ErrorIs(t, err, domain.ErrAuthFailure)
	})

	t.Run("rollback impossible", func(t *testing.T) {
		f := newFixture()
		gateway := undeletableGateway{Gateway: f.provider.NewGateway()}
		m := New(gateway, &flakyProfiles{Profiles: f.profiles, failPuts: 2}, nil, nil, nil, nil, nil, Config{})
		defer m.Close()

		_, err := m.Register(ctx, reg)
		assert.True(t, domain.IsDomainError(err, domain.ErrCodePartialRegistration))
	})
}

// gatedProfiles blocks the profile read of one identity until released and
// ignores cancellation, so the result arrives after a newer sign-in.
type gatedProfiles struct {
	*memory.Profiles
	gatedID string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProfiles) Get(ctx context.Context, identityID string) (*domain.Profile, error) {
	if identityID == g.gatedID {
		close(g.entered)
		<-g.release
	}
	return g.Profiles.Get(ctx, identityID)
}

func TestStaleAdmissionResultIsDropped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	registrar, _, _ := f.machine(t, nil)
	admin := f.admin(t)

	a, err := registrar.Register(ctx, domain.Registration{Email: "a@example.com", Password: "secret1", Role: domain.RoleFarmer})
	require.NoError(t, err)
	b, err := registrar.Register(ctx, domain.Registration{Email: "b@example.com", Password: "secret1", Role: domain.RoleBuyer})
	require.NoError(t, err)
	for _, id := range []string{a.IdentityID, b.IdentityID} {
		_, err := admin.Confirm(ctx, id)
		require.NoError(t, err)
	}

	gated := &gatedProfiles{Profiles: f.profiles, gatedID: a.IdentityID, entered: make(chan struct{}), release: make(chan struct{})}
	m, _, activator := f.machine(t, gated)

	type result struct {
		view domain.SessionView
		err  error
	}
	done := make(chan result, 1)
	go func() {
		view, err := m.SignIn(ctx, "a@example.com", "secret1")
		done <- result{view, err}
	}()
	<-gated.entered

	viewB, err := m.SignIn(ctx, "b@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, b.IdentityID, viewB.IdentityID)

	close(gated.release)
	resA := <-done
	assert.ErrorIs(t, resA.err, domain.ErrSuperseded)

	view := m.View()
	assert.Equal(t, b.IdentityID, view.IdentityID)
	assert.Equal(t, domain.RoleBuyer, view.Role)
	last, ok := activator.last()
	require.True(t, ok)
	assert.Equal(t, b.IdentityID, last.IdentityID)
	for _, activated := range activator.activated {
		assert.NotEqual(t, a.IdentityID, activated.IdentityID)
	}
}
