package handler

import (
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/api/transport"
	"github.com/fastygo/agriconnect/internal/infrastructure/monitor"
	"github.com/fastygo/agriconnect/pkg/httpcontext"
)

// StatusSource reports backing store health.
type StatusSource interface {
	GetStatus() monitor.Status
}

type HealthHandler struct {
	baseHandler
	monitor  StatusSource
	sessions func() int
}

func NewHealthHandler(mon StatusSource, sessions func() int, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
		sessions:    sessions,
	}
}

// @Summary Health check
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	status := h.monitor.GetStatus()
	payload := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"services":  status.Components,
		"buffer": map[string]interface{}{
			"online": status.Buffer,
			"size":   status.BufferSize,
		},
	}
	if h.sessions != nil {
		payload["client_sessions"] = h.sessions()
	}

	if status.Online {
		h.respondSuccess(ctx, http.StatusOK, payload)
		return
	}
	h.respondJSON(ctx, http.StatusServiceUnavailable, transport.NewError("DEGRADED", "dependencies unhealthy", payload))
}
