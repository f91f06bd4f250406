package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

// sessionRepository keeps identity provider sessions in Redis; keys expire with
// the session so a revoked or lapsed session simply disappears. A set per
// identity lists its session ids for bulk revocation. Members may outlive their
// session key.
type sessionRepository struct {
	client *redislib.Client
	prefix string
	index  string
	ttl    time.Duration
}

func NewSessionRepository(client *redislib.Client, ttl time.Duration) repository.SessionRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &sessionRepository{
		client: client,
		prefix: "agriconnect:session:",
		index:  "agriconnect:identity_sessions:",
		ttl:    ttl,
	}
}

func (r *sessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, unavailable("load session", err)
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "decode session", err)
	}
	return &session, nil
}

func (r *sessionRepository) Save(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" || session.UserID == "" {
		return domain.ErrInvalidPayload
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if !session.ExpiresAt.After(session.CreatedAt) {
		session.ExpiresAt = session.CreatedAt.Add(r.ttl)
	}

	ttl := session.Remaining(time.Now())
	if ttl == 0 {
		return domain.WrapError(domain.ErrCodeValidation, "session already expired", nil)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "encode session", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redislib.Pipeliner) error {
		pipe.Set(ctx, r.key(session.ID), payload, ttl)
		pipe.SAdd(ctx, r.indexKey(session.UserID), session.ID)
		// sessions share one TTL, so the newest save outlives the rest
		pipe.Expire(ctx, r.indexKey(session.UserID), ttl)
		return nil
	})
	if err != nil {
		return unavailable("save session", err)
	}
	return nil
}

func (r *sessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

func (r *sessionRepository) DeleteForIdentity(ctx context.Context, identityID string) (int, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey(identityID)).Result()
	if err != nil {
		return 0, unavailable("list identity sessions", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.key(id))
	}
	var removed *redislib.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redislib.Pipeliner) error {
		if len(keys) > 0 {
			removed = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, r.indexKey(identityID))
		return nil
	})
	if err != nil {
		return 0, unavailable("delete identity sessions", err)
	}
	if removed == nil {
		return 0, nil
	}
	return int(removed.Val()), nil
}

func (r *sessionRepository) key(id string) string {
	return r.prefix + id
}

func (r *sessionRepository) indexKey(identityID string) string {
	return r.index + identityID
}

func unavailable(message string, err error) error {
	return domain.WrapError(domain.ErrCodeRemoteUnavailable, message, err)
}
