package handler

import (
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/api/transport"
	"github.com/fastygo/agriconnect/internal/services/sessions"
	"github.com/fastygo/agriconnect/pkg/httpcontext"
)

type CheckoutHandler struct {
	clientHandler
}

func NewCheckoutHandler(hub *sessions.Hub, adapter *httpcontext.Adapter, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{clientHandler: newClientHandler(hub, adapter, logger)}
}

// @Summary Start payment for a product
// @Tags checkout
// @Param Idempotency-Key header string true "deduplicates retried purchases"
// @Router /api/v1/checkout [post]
func (h *CheckoutHandler) Purchase(ctx *fasthttp.RequestCtx) {
	var req transport.PurchaseRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.ProductID == "" {
		h.invalidPayload(ctx)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	s, ok := h.client(stdCtx, ctx)
	if !ok {
		return
	}
	receipt, err := s.Checkout.Purchase(stdCtx, req.ProductID, string(ctx.Request.Header.Peek(headerIdempotencyKey)))
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	status := http.StatusAccepted
	if !receipt.Payment.Accepted {
		status = http.StatusPaymentRequired
	}
	h.respondSuccess(ctx, status, receipt)
}
