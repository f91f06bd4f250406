package requests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository/memory"
	"github.com/fastygo/agriconnect/usecase"
	"github.com/fastygo/agriconnect/usecase/access"
	"github.com/fastygo/agriconnect/usecase/catalog"
)

type fakeGeocoder struct {
	resolveFn func(ctx context.Context, address string) (*domain.Coordinates, error)
}

func (f fakeGeocoder) Resolve(ctx context.Context, address string) (*domain.Coordinates, error) {
	return f.resolveFn(ctx, address)
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(ctx context.Context, key string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, key)
	return nil
}

var (
	_ usecase.Geocoder       = fakeGeocoder{}
	_ usecase.EventPublisher = (*fakePublisher)(nil)
	_ Catalog                = (*catalog.Engine)(nil)
)

func engineFor(t *testing.T, store *memory.Catalog, id string, role domain.Role) *catalog.Engine {
	t.Helper()
	e := catalog.New(store, store, nil, nil, nil, nil, catalog.Config{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	view := access.Derive(&domain.Identity{ID: id}, &domain.Profile{IdentityID: id, Role: role, Confirmed: true}, 1)
	require.NoError(t, e.Activate(context.Background(), view))
	t.Cleanup(e.Deactivate)
	return e
}

func TestSubmitLogisticsGeocodesBestEffort(t *testing.T) {
	store := memory.NewCatalog()
	geocoder := fakeGeocoder{resolveFn: func(ctx context.Context, address string) (*domain.Coordinates, error) {
		if address == "Kigali" {
			return &domain.Coordinates{Lat: -1.95, Lng: 30.06}, nil
		}
		return nil, errors.New("geocoder down")
	}}
	uc := New(engineFor(t, store, "f1", domain.RoleFarmer), geocoder, nil, nil, Config{})

	req, err := uc.SubmitLogistics(context.Background(), domain.LogisticsRequest{Pickup: "Kigali", Destination: "Musanze"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, "f1", req.FarmerID)
	require.NotNil(t, req.PickupCoords)
	assert.InDelta(t, -1.95, req.PickupCoords.Lat, 1e-9)
	assert.Nil(t, req.DestinationCoords)
}

func TestSubmitRequiresFarmer(t *testing.T) {
	store := memory.NewCatalog()
	called := false
	geocoder := fakeGeocoder{resolveFn: func(context.Context, string) (*domain.Coordinates, error) {
		called = true
		return nil, nil
	}}
	uc := New(engineFor(t, store, "b1", domain.RoleBuyer), geocoder, nil, nil, Config{})

	_, err := uc.SubmitLogistics(context.Background(), domain.LogisticsRequest{Pickup: "A", Destination: "B"}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.False(t, called)

	_, err = uc.SubmitLoan(context.Background(), domain.LoanRequest{Amount: 10, Purpose: "seed"}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSubmitLoanValidates(t *testing.T) {
	store := memory.NewCatalog()
	uc := New(engineFor(t, store, "f1", domain.RoleFarmer), nil, nil, nil, Config{})

	_, err := uc.SubmitLoan(context.Background(), domain.LoanRequest{Amount: -5, Purpose: "seed"}, "")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeValidation))

	loan, err := uc.SubmitLoan(context.Background(), domain.LoanRequest{Amount: 250, Purpose: "irrigation"}, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.DocumentID("f1", "loan-1"), loan.ID)
	assert.Equal(t, domain.StatusPending, loan.Status)
}

func TestLifecycleIsTerminal(t *testing.T) {
	store := memory.NewCatalog()
	ctx := context.Background()
	farmer := New(engineFor(t, store, "f1", domain.RoleFarmer), nil, nil, nil, Config{})
	publisher := &fakePublisher{}
	admin := New(engineFor(t, store, "a1", domain.RoleAdmin), nil, publisher, nil, Config{})

	loan, err := farmer.SubmitLoan(ctx, domain.LoanRequest{Amount: 100, Purpose: "seed"}, "")
	require.NoError(t, err)

	_, err = farmer.Approve(ctx, domain.KindLoan, loan.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	doc, err := admin.Reject(ctx, domain.KindLoan, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, doc.Status)

	doc, err = admin.Reject(ctx, domain.KindLoan, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, doc.Status)

	_, err = admin.Approve(ctx, domain.KindLoan, loan.ID)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalidTransition))

	_, err = admin.Decide(ctx, domain.KindLoan, loan.ID, domain.StatusPending)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalidTransition))

	_, err = admin.Approve(ctx, domain.KindProduct, loan.ID)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeValidation))

	assert.Equal(t, []string{usecase.TopicRequestDecided}, publisher.topics)
}
