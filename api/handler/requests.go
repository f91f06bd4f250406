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

type RequestHandler struct {
	clientHandler
}

func NewRequestHandler(hub *sessions.Hub, adapter *httpcontext.Adapter, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{clientHandler: newClientHandler(hub, adapter, logger)}
}

// @Summary File a logistics request
// @Tags requests
// @Router /api/v1/requests/logistics [post]
func (h *RequestHandler) SubmitLogistics(ctx *fasthttp.RequestCtx) {
	var req transport.LogisticsRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.invalidPayload(ctx)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	created, err := s.Requests.SubmitLogistics(stdCtx, domain.LogisticsRequest{
		Pickup:      req.Pickup,
		Destination: req.Destination,
		Notes:       req.Notes,
	}, string(ctx.Request.Header.Peek(headerIdempotencyKey)))
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, created)
}

// @Summary Apply for a loan
// @Tags requests
// @Router /api/v1/requests/loans [post]
func (h *RequestHandler) SubmitLoan(ctx *fasthttp.RequestCtx) {
	var req transport.LoanRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.invalidPayload(ctx)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	created, err := s.Requests.SubmitLoan(stdCtx, domain.LoanRequest{Amount: req.Amount, Purpose: req.Purpose},
		string(ctx.Request.Header.Peek(headerIdempotencyKey)))
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, created)
}

// @Summary Approve or reject a pending request
// @Tags requests
// @Router /api/v1/requests/{kind}/{id}/status [put]
func (h *RequestHandler) Decide(ctx *fasthttp.RequestCtx) {
	raw, _ := ctx.UserValue("kind").(string)
	kind, ok := domain.ParseKind(raw)
	if !ok || !kind.HasStatus() {
		h.respondJSON(ctx, http.StatusNotFound, transport.NewError(string(domain.ErrCodeNotFound), "unknown request collection", nil))
		return
	}
	id, _ := ctx.UserValue("id").(string)

	var req transport.StatusRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.invalidPayload(ctx)
		return
	}
	status, ok := domain.ParseStatus(req.Status)
	if !ok {
		h.invalidPayload(ctx)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	doc, err := s.Requests.Decide(stdCtx, kind, id, status)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, doc)
}
