package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/fastygo/agriconnect/domain"
)

// Claims are carried by the bearer token handed to clients.
type Claims struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session tokens with HMAC-SHA256.
type TokenIssuer struct {
	secret []byte
	issuer string
}

func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer}
}

func (t *TokenIssuer) Issue(session *domain.Session) (string, error) {
	if session == nil || session.ID == "" {
		return "", domain.ErrInvalidPayload
	}
	claims := Claims{
		SessionID: session.ID,
		UserID:    session.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, domain.WrapError(domain.ErrCodeUnauthorized, "invalid session token", err)
	}
	if claims.SessionID == "" || claims.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}

// Expiry returns the expiry encoded in the claims, or the zero time.
func (c *Claims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
