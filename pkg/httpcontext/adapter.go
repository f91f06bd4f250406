package httpcontext

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	appLogger "github.com/fastygo/agriconnect/pkg/logger"
)

// Key represents a context value key exported for reuse.
type Key string

const (
	KeyRemoteAddr Key = "remote_addr"
	KeyUserAgent  Key = "user_agent"
	KeySessionID  Key = "session_id"
	KeyUserID     Key = "user_id"
)

const (
	headerRequestID    = "X-Request-ID"
	maxRequestIDLength = 128
)

type binding struct {
	header string
	key    Key
}

// Option configures an Adapter.
type Option func(*Adapter)

// CopyHeader stores a request header under key and adds it to request loggers.
// Middleware that authenticates the request sets these headers before the
// handler attaches its context.
func CopyHeader(header string, key Key) Option {
	return func(a *Adapter) {
		a.bindings = append(a.bindings, binding{header: header, key: key})
	}
}

// Adapter converts fasthttp.RequestCtx into a stdlib context with deadlines and metadata.
type Adapter struct {
	timeout  time.Duration
	bindings []binding
}

func NewAdapter(timeout time.Duration, opts ...Option) *Adapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Adapter{timeout: timeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach derives a request context bounded by the adapter timeout.
func (a *Adapter) Attach(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	stdCtx, cancel := context.WithTimeout(context.Background(), a.timeout)

	reqID := requestID(ctx)
	stdCtx = appLogger.ContextWithRequestID(stdCtx, reqID)
	ctx.Response.Header.Set(headerRequestID, reqID)

	if ip := ctx.RemoteIP(); ip != nil && !ip.IsUnspecified() {
		stdCtx = context.WithValue(stdCtx, KeyRemoteAddr, ip.String())
	}
	if ua := string(ctx.Request.Header.UserAgent()); ua != "" {
		stdCtx = context.WithValue(stdCtx, KeyUserAgent, ua)
	}

	var fields []zap.Field
	for _, b := range a.bindings {
		value := string(ctx.Request.Header.Peek(b.header))
		if value == "" {
			continue
		}
		stdCtx = context.WithValue(stdCtx, b.key, value)
		fields = append(fields, zap.String(string(b.key), value))
	}
	return appLogger.ContextWith(stdCtx, fields...), cancel
}

// Value returns the string stored under key, or "".
func Value(ctx context.Context, key Key) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// requestID honours a caller supplied id when it is short and printable.
func requestID(ctx *fasthttp.RequestCtx) string {
	header := ctx.Request.Header.Peek(headerRequestID)
	if len(header) == 0 || len(header) > maxRequestIDLength {
		return uuid.NewString()
	}
	for _, c := range header {
		if c < 0x21 || c > 0x7e {
			return uuid.NewString()
		}
	}
	return string(header)
}
