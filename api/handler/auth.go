package handler

import (
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/api/transport"
	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/internal/middleware"
	"github.com/fastygo/agriconnect/internal/services/sessions"
	"github.com/fastygo/agriconnect/pkg/httpcontext"
)

type AuthHandler struct {
	clientHandler
}

func NewAuthHandler(hub *sessions.Hub, adapter *httpcontext.Adapter, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{clientHandler: newClientHandler(hub, adapter, logger)}
}

// @Summary Register a farmer or buyer account
// @Tags auth
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(ctx *fasthttp.RequestCtx) {
	var req transport.RegisterRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.invalidPayload(ctx)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	role, ok := domain.ParseRole(req.Role)
	if !ok {
		role = domain.Role(req.Role)
	}
	profile, err := h.hub.Register(stdCtx, domain.Registration{Email: req.Email, Password: req.Password, Role: role})
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, profile)
}

// @Summary Sign in and receive a bearer token
// @Tags auth
// @Router /api/v1/auth/signin [post]
func (h *AuthHandler) SignIn(ctx *fasthttp.RequestCtx) {
	var req transport.SignInRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Email == "" {
		h.invalidPayload(ctx)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	_, token, view, err := h.hub.SignIn(stdCtx, req.Email, req.Password)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.SignInResponse{Token: token, View: view})
}

// @Summary End the current session
// @Tags auth
// @Router /api/v1/auth/signout [post]
func (h *AuthHandler) SignOut(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	sessionID := string(ctx.Request.Header.Peek(middleware.HeaderSessionID))
	if err := h.hub.SignOut(stdCtx, sessionID); err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	ctx.SetStatusCode(http.StatusNoContent)
}

// @Summary Current session view and capabilities
// @Tags auth
// @Router /api/v1/session [get]
func (h *AuthHandler) View(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	h.respondSuccess(ctx, http.StatusOK, s.View())
}
