package handler

import (
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/api/transport"
	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/internal/services/sessions"
	"github.com/fastygo/agriconnect/pkg/httpcontext"
)

type CatalogHandler struct {
	clientHandler
}

func NewCatalogHandler(hub *sessions.Hub, adapter *httpcontext.Adapter, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{clientHandler: newClientHandler(hub, adapter, logger)}
}

// @Summary List the session's read model of a collection
// @Tags catalog
// @Router /api/v1/catalog/{kind} [get]
func (h *CatalogHandler) List(ctx *fasthttp.RequestCtx) {
	kind, ok := h.kind(ctx)
	if !ok {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	items, stale, err := s.Catalog.Items(kind)
	if err != nil && items == nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondJSON(ctx, http.StatusOK, transport.NewSuccess(items, transport.ListMeta{Count: len(items), Stale: stale || err != nil}))
}

// @Summary Create a catalog document
// @Tags catalog
// @Param Idempotency-Key header string false "buffers the write while the store is unavailable"
// @Router /api/v1/catalog/{kind} [post]
func (h *CatalogHandler) Create(ctx *fasthttp.RequestCtx) {
	kind, ok := h.kind(ctx)
	if !ok {
		return
	}
	if kind.HasStatus() {
		// requests need geocoding and moderation; they have their own routes
		h.respondJSON(ctx, http.StatusBadRequest, transport.NewError(string(domain.ErrCodeValidation), "submit requests via /api/v1/requests", nil))
		return
	}
	var req transport.CreateDocumentRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || len(req.Payload) == 0 {
		h.invalidPayload(ctx)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	doc, err := s.Catalog.Create(stdCtx, kind, req.Payload, string(ctx.Request.Header.Peek(headerIdempotencyKey)))
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, doc)
}

// @Summary Remove a catalog document
// @Tags catalog
// @Router /api/v1/catalog/{kind}/{id} [delete]
func (h *CatalogHandler) Delete(ctx *fasthttp.RequestCtx) {
	kind, ok := h.kind(ctx)
	if !ok {
		return
	}
	id, _ := ctx.UserValue("id").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	if err := s.Catalog.Remove(stdCtx, kind, id); err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	ctx.SetStatusCode(http.StatusNoContent)
}

func (h *CatalogHandler) kind(ctx *fasthttp.RequestCtx) (domain.CollectionKind, bool) {
	raw, _ := ctx.UserValue("kind").(string)
	kind, ok := domain.ParseKind(raw)
	if !ok {
		h.respondJSON(ctx, http.StatusNotFound, transport.NewError(string(domain.ErrCodeNotFound), "unknown collection", nil))
	}
	return kind, ok
}
