package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (r *recorder) record(event domain.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) types() []domain.ChangeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ChangeType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestCatalogFeedDeliversSnapshotThenChanges(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog()
	existing := &domain.Document{ID: "r1", Kind: domain.KindLogistics, OwnerID: "farmer-1", Status: domain.StatusPending, Payload: json.RawMessage(`{}`)}
	require.NoError(t, c.Insert(ctx, existing))

	var rec recorder
	sub, err := c.Subscribe(ctx, repository.DocumentFilter{Kind: domain.KindLogistics, Status: domain.StatusPending}, rec.record)
	require.NoError(t, err)
	defer sub.Close()

	require.Equal(t, []domain.ChangeType{domain.ChangeSnapshot}, rec.types(), "snapshot is delivered before Subscribe returns")
	require.Len(t, rec.events[0].Documents, 1)

	require.NoError(t, c.Insert(ctx, &domain.Document{ID: "r2", Kind: domain.KindLogistics, OwnerID: "farmer-2", Status: domain.StatusPending}))
	_, err = c.UpdateStatus(ctx, "r1", domain.StatusPending, domain.StatusApproved)
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, &domain.Document{ID: "p1", Kind: domain.KindProduct, OwnerID: "farmer-1"}))

	require.Eventually(t, func() bool { return len(rec.types()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.ChangeType{domain.ChangeSnapshot, domain.ChangeInsert, domain.ChangeDelete}, rec.types(),
		"a document leaving the filter arrives as a delete")
}

func TestCatalogInsertIsIdempotentPerOwner(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog()

	first := &domain.Document{ID: "p1", Kind: domain.KindProduct, OwnerID: "farmer-1", Payload: json.RawMessage(`{"name":"Maize"}`)}
	require.NoError(t, c.Insert(ctx, first))

	replay := &domain.Document{ID: "p1", Kind: domain.KindProduct, OwnerID: "farmer-1", Payload: json.RawMessage(`{"name":"Other"}`)}
	require.NoError(t, c.Insert(ctx, replay))
	assert.JSONEq(t, `{"name":"Maize"}`, string(replay.Payload), "replay returns the stored copy")

	err := c.Insert(ctx, &domain.Document{ID: "p1", Kind: domain.KindProduct, OwnerID: "farmer-2"})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeConflict))

	docs, err := c.List(ctx, repository.DocumentFilter{Kind: domain.KindProduct})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestCatalogUpdateStatusComparesAndSets(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog()
	require.NoError(t, c.Insert(ctx, &domain.Document{ID: "l1", Kind: domain.KindLoan, OwnerID: "farmer-1", Status: domain.StatusPending}))

	updated, err := c.UpdateStatus(ctx, "l1", domain.StatusPending, domain.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = c.UpdateStatus(ctx, "l1", domain.StatusPending, domain.StatusApproved)
	assert.ErrorIs(t, err, domain.ErrStaleWrite)
	_, err = c.UpdateStatus(ctx, "missing", domain.StatusPending, domain.StatusApproved)
	assert.ErrorIs(t, err, domain.ErrStaleWrite)
}

func TestCatalogOfflineDropsSubscriptions(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog()

	sub, err := c.Subscribe(ctx, repository.DocumentFilter{Kind: domain.KindProduct}, func(domain.ChangeEvent) {})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Subscribers())

	c.SetOffline(true)
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription still running")
	}
	assert.ErrorIs(t, sub.Err(), domain.ErrRemoteUnavailable)
	assert.Zero(t, c.Subscribers())

	_, err = c.Subscribe(ctx, repository.DocumentFilter{Kind: domain.KindProduct}, func(domain.ChangeEvent) {})
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	assert.ErrorIs(t, c.AppendEvent(ctx, domain.Event{Name: "x"}), domain.ErrRemoteUnavailable)

	c.SetOffline(false)
	require.NoError(t, c.AppendEvent(ctx, domain.Event{Name: "product.created"}))
	assert.Len(t, c.Events(), 1)
}

func TestProfilesListPending(t *testing.T) {
	ctx := context.Background()
	p := NewProfiles()
	rejectedAt := time.Now()

	require.NoError(t, p.Put(ctx, &domain.Profile{IdentityID: "a", Role: domain.RoleFarmer, CreatedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, p.Put(ctx, &domain.Profile{IdentityID: "b", Role: domain.RoleBuyer, CreatedAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, p.Put(ctx, &domain.Profile{IdentityID: "c", Role: domain.RoleBuyer}))

	confirmed := true
	_, err := p.Patch(ctx, "b", domain.ProfilePatch{Confirmed: &confirmed})
	require.NoError(t, err)
	_, err = p.Patch(ctx, "c", domain.ProfilePatch{RejectedAt: &rejectedAt})
	require.NoError(t, err)
	_, err = p.Patch(ctx, "missing", domain.ProfilePatch{Confirmed: &confirmed})
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	pending, err := p.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].IdentityID)
}

func TestSessionsDeleteForIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewSessions()
	now := time.Now()

	require.NoError(t, s.Save(ctx, &domain.Session{ID: "s1", UserID: "u1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.Save(ctx, &domain.Session{ID: "s2", UserID: "u1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.Save(ctx, &domain.Session{ID: "s3", UserID: "u1", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Save(ctx, &domain.Session{ID: "s4", UserID: "u2", ExpiresAt: now.Add(time.Hour)}))

	removed, err := s.DeleteForIdentity(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "lapsed sessions are not counted")

	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = s.Get(ctx, "s4")
	assert.NoError(t, err)
}
