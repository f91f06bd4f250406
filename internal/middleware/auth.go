package middleware

import (
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/internal/services/identity"
)

const (
	HeaderSessionID = "X-Session-ID"
	HeaderUserID    = "X-User-ID"
)

// TokenParser validates bearer tokens.
type TokenParser interface {
	ParseToken(token string) (*identity.Claims, error)
}

// JWTAuth rejects requests without a valid bearer token and forwards the
// session and user ids to the handler as headers.
func JWTAuth(parser TokenParser, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			// never trust ids supplied by the client
			ctx.Request.Header.Del(HeaderSessionID)
			ctx.Request.Header.Del(HeaderUserID)

			tokenString := extractToken(ctx)
			if tokenString == "" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}

			claims, err := parser.ParseToken(tokenString)
			if err != nil {
				logger.Warn("invalid jwt token", zap.Error(err))
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}

			ctx.Request.Header.Set(HeaderSessionID, claims.SessionID)
			ctx.Request.Header.Set(HeaderUserID, claims.UserID)
			next(ctx)
		}
	}
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if header == "" {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
