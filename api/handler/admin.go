package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/internal/services/sessions"
	"github.com/fastygo/agriconnect/pkg/httpcontext"
)

// AdminHandler exposes profile moderation. Capability checks happen in the
// admission machine of the calling session.
type AdminHandler struct {
	clientHandler
}

func NewAdminHandler(hub *sessions.Hub, adapter *httpcontext.Adapter, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{clientHandler: newClientHandler(hub, adapter, logger)}
}

// @Summary Profiles awaiting confirmation
// @Tags admin
// @Router /api/v1/admin/profiles/pending [get]
func (h *AdminHandler) Pending(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	profiles, err := s.Admission.ListPending(stdCtx)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, profiles)
}

// @Summary Confirm a registration
// @Tags admin
// @Router /api/v1/admin/profiles/{id}/confirm [post]
func (h *AdminHandler) Confirm(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	id, _ := ctx.UserValue("id").(string)
	profile, err := s.Admission.Confirm(stdCtx, id)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, profile)
}

// @Summary Reject a registration
// @Tags admin
// @Router /api/v1/admin/profiles/{id}/reject [post]
func (h *AdminHandler) Reject(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	id, _ := ctx.UserValue("id").(string)
	profile, err := s.Admission.Reject(stdCtx, id)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, profile)
}
