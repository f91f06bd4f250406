package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/agriconnect/usecase"
)

var _ usecase.PushTokenIssuer = (*PushTokenIssuer)(nil)

// PushTokenIssuer hands out one device contact token per identity and keeps it
// alive in Redis for the configured TTL.
type PushTokenIssuer struct {
	client *redislib.Client
	prefix string
	ttl    time.Duration
}

func NewPushTokenIssuer(client *redislib.Client, ttl time.Duration) *PushTokenIssuer {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &PushTokenIssuer{
		client: client,
		prefix: "agriconnect:push_token:",
		ttl:    ttl,
	}
}

// RequestToken returns the current token for the identity, minting one if needed.
func (p *PushTokenIssuer) RequestToken(ctx context.Context, identityID string) (string, error) {
	if p == nil || p.client == nil || identityID == "" {
		return "", nil
	}
	key := p.prefix + identityID
	candidate := uuid.NewString()

	ok, err := p.client.SetNX(ctx, key, candidate, p.ttl).Result()
	if err != nil {
		return "", unavailable("mint push token", err)
	}
	if ok {
		return candidate, nil
	}

	token, err := p.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return "", nil
		}
		return "", unavailable("load push token", err)
	}
	_ = p.client.Expire(ctx, key, p.ttl).Err()
	return token, nil
}
