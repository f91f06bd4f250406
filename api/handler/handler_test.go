package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	apiHandler "github.com/fastygo/agriconnect/api/handler"
	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/internal/infrastructure/monitor"
	"github.com/fastygo/agriconnect/internal/middleware"
	"github.com/fastygo/agriconnect/internal/router"
	"github.com/fastygo/agriconnect/internal/services/identity"
	"github.com/fastygo/agriconnect/internal/services/sessions"
	"github.com/fastygo/agriconnect/pkg/httpcontext"
	"github.com/fastygo/agriconnect/repository/memory"
	"github.com/fastygo/agriconnect/usecase/session"
)

type envelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code"`
	Data   json.RawMessage `json:"data"`
	Meta   json.RawMessage `json:"meta"`
}

type api struct {
	handler  fasthttp.RequestHandler
	provider *identity.Provider
	profiles *memory.Profiles
}

func newAPI(t *testing.T) *api {
	t.Helper()
	provider := identity.NewProvider(memory.NewCredentials(), memory.NewSessions(), identity.NewTokenIssuer("secret", "test"), nil, identity.Config{
		SessionTTL:        time.Hour,
		BcryptCost:        bcrypt.MinCost,
		MinPasswordLength: 6,
	})
	profiles := memory.NewProfiles()
	store := memory.NewCatalog()
	hub := sessions.New(provider, session.Dependencies{Profiles: profiles, Feed: store, Documents: store}, session.Config{}, nil, nil, sessions.Config{})
	t.Cleanup(func() { hub.Stop(context.Background()) })

	mon := monitor.New(nil, 0, nil)
	mon.Refresh(context.Background())
	adapter := httpcontext.NewAdapter(time.Second)

	r := router.New(router.Handlers{
		Auth:     apiHandler.NewAuthHandler(hub, adapter, nil),
		Catalog:  apiHandler.NewCatalogHandler(hub, adapter, nil),
		Requests: apiHandler.NewRequestHandler(hub, adapter, nil),
		Admin:    apiHandler.NewAdminHandler(hub, adapter, nil),
		Checkout: apiHandler.NewCheckoutHandler(hub, adapter, nil),
		Health:   apiHandler.NewHealthHandler(mon, hub.Len, adapter, nil),
	}, middleware.JWTAuth(provider, nil))

	return &api{handler: r.Handler, provider: provider, profiles: profiles}
}

func (a *api) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if token != "" {
		ctx.Request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		ctx.Request.SetBody(raw)
	}
	a.handler(&ctx)

	var env envelope
	if len(ctx.Response.Body()) > 0 {
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
	}
	return ctx.Response.StatusCode(), env
}

func (a *api) signIn(t *testing.T, email, password string) string {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status, env.Code)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out.Token
}

func (a *api) provisionAdmin(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	id, err := a.provider.NewGateway().CreateIdentity(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
	require.NoError(t, a.profiles.Put(ctx, &domain.Profile{IdentityID: id.ID, Email: id.Email, Role: domain.RoleAdmin, Confirmed: true}))
	return a.signIn(t, "admin@example.com", "admin-pass")
}

func TestAdmissionAndCatalogOverHTTP(t *testing.T) {
	a := newAPI(t)

	status, env := a.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "farmer@example.com", "password": "secret1", "role": "farmer"})
	require.Equal(t, http.StatusCreated, status)
	var profile domain.Profile
	require.NoError(t, json.Unmarshal(env.Data, &profile))

	status, env = a.do(t, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{"email": "farmer@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, string(domain.ErrCodePendingConfirmation), env.Code)

	status, env = a.do(t, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{"email": "farmer@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, string(domain.ErrCodeAuthFailure), env.Code)

	admin := a.provisionAdmin(t)
	status, env = a.do(t, http.MethodGet, "/api/v1/admin/profiles/pending", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var pending []domain.Profile
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	require.Len(t, pending, 1)

	status, _ = a.do(t, http.MethodPost, "/api/v1/admin/profiles/"+profile.IdentityID+"/confirm", admin, nil)
	require.Equal(t, http.StatusOK, status)

	farmer := a.signIn(t, "farmer@example.com", "secret1")
	status, _ = a.do(t, http.MethodPost, "/api/v1/admin/profiles/"+profile.IdentityID+"/reject", farmer, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env = a.do(t, http.MethodPost, "/api/v1/catalog/products", farmer, map[string]interface{}{
		"payload": map[string]interface{}{"name": "Maize", "price": -1},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(domain.ErrCodeValidation), env.Code)

	status, _ = a.do(t, http.MethodPost, "/api/v1/catalog/products", farmer, map[string]interface{}{
		"payload": map[string]interface{}{"name": "Maize", "price": 100},
	})
	require.Equal(t, http.StatusCreated, status)

	require.Eventually(t, func() bool {
		status, env := a.do(t, http.MethodGet, "/api/v1/catalog/products", farmer, nil)
		var items []domain.Document
		return status == http.StatusOK && json.Unmarshal(env.Data, &items) == nil && len(items) == 1
	}, time.Second, 10*time.Millisecond)

	status, _ = a.do(t, http.MethodGet, "/api/v1/catalog/unknown", farmer, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// requests only enter through the requests routes
	status, env = a.do(t, http.MethodPost, "/api/v1/catalog/logistics_request", farmer, map[string]interface{}{
		"payload": map[string]interface{}{"pickup": "Nakuru", "destination": "Nairobi"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(domain.ErrCodeValidation), env.Code)
	status, env = a.do(t, http.MethodGet, "/api/v1/catalog/logistics", farmer, nil)
	require.Equal(t, http.StatusOK, status)
	var requests []domain.Document
	require.NoError(t, json.Unmarshal(env.Data, &requests))
	assert.Empty(t, requests)

	status, _ = a.do(t, http.MethodPost, "/api/v1/auth/signout", farmer, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = a.do(t, http.MethodGet, "/api/v1/session", farmer, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	a := newAPI(t)
	status, _ := a.do(t, http.MethodGet, "/api/v1/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", env.Status)
}
