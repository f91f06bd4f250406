package sessions

import (
	"context"
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
	"github.com/fastygo/agriconnect/usecase/session"
)

type gaugeRecorder struct{ last int }

func (g *gaugeRecorder) SessionsActive(n int) { g.last = n }

type fixture struct {
	hub      *Hub
	provider *identity.Provider
	profiles *memory.Profiles
	metrics  *gaugeRecorder
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	return newFixtureWith(t, ttl, memory.NewSessions())
}

func newFixtureWith(t *testing.T, ttl time.Duration, sessions repository.SessionRepository) *fixture {
	t.Helper()
	provider := identity.NewProvider(memory.NewCredentials(), sessions, identity.NewTokenIssuer("secret", "test"), nil, identity.Config{
		SessionTTL:        ttl,
		BcryptCost:        bcrypt.MinCost,
		MinPasswordLength: 6,
	})
	profiles := memory.NewProfiles()
	store := memory.NewCatalog()
	metrics := &gaugeRecorder{}
	hub := New(provider, session.Dependencies{Profiles: profiles, Feed: store, Documents: store}, session.Config{}, metrics, nil, Config{IdleTimeout: time.Hour})
	t.Cleanup(func() { hub.Stop(context.Background()) })
	return &fixture{hub: hub, provider: provider, profiles: profiles, metrics: metrics}
}

func (f *fixture) confirmed(t *testing.T, email string, role domain.Role) {
	t.Helper()
	ctx := context.Background()
	profile, err := f.hub.Register(ctx, domain.Registration{Email: email, Password: "secret1", Role: role})
	require.NoError(t, err)
	confirmed := true
	_, err = f.profiles.Patch(ctx, profile.IdentityID, domain.ProfilePatch{Confirmed: &confirmed})
	require.NoError(t, err)
}

func TestSignInTracksClientAndResolvesToken(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.confirmed(t, "farmer@example.com", domain.RoleFarmer)

	client, token, view, err := f.hub.SignIn(ctx, "farmer@example.com", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.True(t, view.Active())
	assert.Equal(t, 1, f.hub.Len())
	assert.Equal(t, 1, f.metrics.last)

	claims, err := f.provider.ParseToken(token)
	require.NoError(t, err)
	resolved, err := f.hub.Resolve(ctx, claims.SessionID)
	require.NoError(t, err)
	assert.Same(t, client, resolved)

	require.NoError(t, f.hub.SignOut(ctx, claims.SessionID))
	assert.Equal(t, 0, f.hub.Len())
	_, err = f.hub.Resolve(ctx, claims.SessionID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSignInRefusesPendingAccount(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.hub.Register(ctx, domain.Registration{Email: "buyer@example.com", Password: "secret1", Role: domain.RoleBuyer})
	require.NoError(t, err)

	client, token, _, err := f.hub.SignIn(ctx, "buyer@example.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrPendingConfirmation)
	assert.Nil(t, client)
	assert.Empty(t, token)
	assert.Equal(t, 0, f.hub.Len())
}

func TestResolveResumesDetachedSession(t *testing.T) {
	f := newFixture(t, 3*time.Hour)
	ctx := context.Background()
	f.confirmed(t, "farmer@example.com", domain.RoleFarmer)

	first, token, _, err := f.hub.SignIn(ctx, "farmer@example.com", "secret1")
	require.NoError(t, err)
	claims, err := f.provider.ParseToken(token)
	require.NoError(t, err)

	// idle clients are detached but their session survives
	removed := f.hub.Sweep(ctx, time.Now().Add(2*time.Hour))
	assert.Equal(t, 1, removed)
	assert.False(t, first.Session.View().Active())

	resumed, err := f.hub.Resolve(ctx, claims.SessionID)
	require.NoError(t, err)
	assert.NotSame(t, first, resumed)
	assert.True(t, resumed.Session.View().Active())
}

func TestSweepExpiresSessions(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.confirmed(t, "farmer@example.com", domain.RoleFarmer)

	client, token, _, err := f.hub.SignIn(ctx, "farmer@example.com", "secret1")
	require.NoError(t, err)
	claims, err := f.provider.ParseToken(token)
	require.NoError(t, err)

	assert.Equal(t, 0, f.hub.Sweep(ctx, time.Now()))
	assert.Equal(t, 1, f.hub.Sweep(ctx, time.Now().Add(2*time.Minute)))
	assert.Equal(t, domain.AdmissionUnauthenticated, client.Session.View().State)
	assert.Nil(t, client.Gateway.Current())

	_, err = f.hub.Resolve(ctx, claims.SessionID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

// slowSessions holds lookups once armed until release is closed, then fails
// them if the caller's context is gone, like a remote store would.
type slowSessions struct {
	*memory.Sessions
	mu      sync.Mutex
	armed   bool
	gets    int
	entered chan struct{}
	release chan struct{}
}

func (s *slowSessions) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
}

func (s *slowSessions) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *slowSessions) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	armed := s.armed
	if armed {
		s.gets++
	}
	first := armed && s.gets == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
	}
	if armed {
		<-s.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return s.Sessions.Get(ctx, id)
}

func TestResolveOutlivesCancelledCaller(t *testing.T) {
	sessions := &slowSessions{Sessions: memory.NewSessions(), entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWith(t, 3*time.Hour, sessions)
	ctx := context.Background()
	f.confirmed(t, "farmer@example.com", domain.RoleFarmer)

	_, token, _, err := f.hub.SignIn(ctx, "farmer@example.com", "secret1")
	require.NoError(t, err)
	claims, err := f.provider.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, 1, f.hub.Sweep(ctx, time.Now().Add(2*time.Hour)))
	sessions.arm()

	callerCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := f.hub.Resolve(callerCtx, claims.SessionID)
		done <- err
	}()
	<-sessions.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	close(sessions.release)

	var resumed *Client
	require.Eventually(t, func() bool {
		resumed, err = f.hub.Resolve(ctx, claims.SessionID)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, resumed.Session.View().Active())
	assert.Equal(t, 1, sessions.calls(), "the shared resume was not abandoned")
}
