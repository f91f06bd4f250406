package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/api/transport"
	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/internal/middleware"
	"github.com/fastygo/agriconnect/internal/services/sessions"
	"github.com/fastygo/agriconnect/pkg/httpcontext"
	appLogger "github.com/fastygo/agriconnect/pkg/logger"
	"github.com/fastygo/agriconnect/usecase/session"
)

const headerIdempotencyKey = "Idempotency-Key"

type baseHandler struct {
	adapter *httpcontext.Adapter
	logger  *zap.Logger
}

func newBaseHandler(adapter *httpcontext.Adapter, logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{adapter: adapter, logger: logger}
}

func (h baseHandler) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	if h.adapter != nil {
		return h.adapter.Attach(ctx)
	}
	return context.WithCancel(context.Background())
}

func (h baseHandler) respondJSON(ctx *fasthttp.RequestCtx, status int, payload transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, _ := json.Marshal(payload)
	ctx.SetBody(body)
}

func (h baseHandler) respondSuccess(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	h.respondJSON(ctx, status, transport.NewSuccess(data, nil))
}

func (h baseHandler) respondError(stdCtx context.Context, ctx *fasthttp.RequestCtx, err error) {
	status, code := mapError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		appLogger.FromContext(stdCtx, h.logger).Error("request failed",
			zap.String("path", string(ctx.Path())), zap.String("code", code), zap.Error(err))
		if code == string(domain.ErrCodeInternal) {
			message = "internal error"
		}
	}
	h.respondJSON(ctx, status, transport.NewError(code, message, nil))
}

func (h baseHandler) invalidPayload(ctx *fasthttp.RequestCtx) {
	h.respondJSON(ctx, http.StatusBadRequest, transport.NewError(string(domain.ErrCodeValidation), "invalid payload", nil))
}

// clientHandler serves routes that act on behalf of a signed-in client.
type clientHandler struct {
	baseHandler
	hub *sessions.Hub
}

func newClientHandler(hub *sessions.Hub, adapter *httpcontext.Adapter, logger *zap.Logger) clientHandler {
	return clientHandler{baseHandler: newBaseHandler(adapter, logger), hub: hub}
}

// client resolves the session the auth middleware authenticated. It writes the
// error response itself and reports false when there is none.
func (h clientHandler) client(stdCtx context.Context, ctx *fasthttp.RequestCtx) (*session.Session, bool) {
	sessionID := string(ctx.Request.Header.Peek(middleware.HeaderSessionID))
	if sessionID == "" {
		h.respondError(stdCtx, ctx, domain.ErrUnauthorized)
		return nil, false
	}
	c, err := h.hub.Resolve(stdCtx, sessionID)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return nil, false
	}
	return c.Session, true
}

func mapError(err error) (int, string) {
	code := domain.CodeOf(err)
	switch code {
	case domain.ErrCodeUnauthorized, domain.ErrCodeAuthFailure:
		return http.StatusUnauthorized, string(code)
	case domain.ErrCodeForbidden, domain.ErrCodePendingConfirmation, domain.ErrCodeAccountRejected, domain.ErrCodeProfileMissing:
		return http.StatusForbidden, string(code)
	case domain.ErrCodeValidation, domain.ErrCodeWeakCredential:
		return http.StatusBadRequest, string(code)
	case domain.ErrCodeNotFound:
		return http.StatusNotFound, string(code)
	case domain.ErrCodeConflict, domain.ErrCodeDuplicateIdentity, domain.ErrCodeInvalidTransition, domain.ErrCodeSuperseded:
		return http.StatusConflict, string(code)
	case domain.ErrCodeRemoteUnavailable, domain.ErrCodePersistenceUnavailable:
		return http.StatusServiceUnavailable, string(code)
	case domain.ErrCodePartialRegistration:
		return http.StatusInternalServerError, string(code)
	default:
		return http.StatusInternalServerError, string(domain.ErrCodeInternal)
	}
}
