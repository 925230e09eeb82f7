package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned for unknown, revoked or expired sessions.
var ErrNotFound = errors.New("session not found")

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Registry is the Redis-backed session registry.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRegistry returns a registry using prefix as the key namespace.
func NewRegistry(rdb redis.UniversalClient, prefix string) *Registry {
	if prefix == "" {
		prefix = "ss"
	}
	return &Registry{redis: rdb, prefix: prefix, now: time.Now}
}

func (r *Registry) key(sessionID string) string {
	return r.prefix + ":s:" + sessionID
}

func (r *Registry) userKey(userID string) string {
	return r.prefix + ":u:" + userID
}

// Create registers a new session for userID that lives for ttl.
func (r *Registry) Create(ctx context.Context, userID, role string, ttl time.Duration) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session requires a user id")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}

	now := r.now()
	sess := &Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	userKey := r.userKey(userID)
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return sess, nil
}

// Active returns the session if it is registered and unexpired.
func (r *Registry) Active(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	data, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		_ = r.Revoke(ctx, sessionID)
		return nil, ErrNotFound
	}
	sess.SessionID = sessionID

	if sess.ExpiresAt <= r.now().Unix() {
		if err := r.delete(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

// Revoke removes a session. Revoking an unknown session is not an error.
func (r *Registry) Revoke(ctx context.Context, sessionID string) error {
	data, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	userID := ""
	if sess, err := Decode(data); err == nil {
		userID = sess.UserID
	}
	return r.delete(ctx, userID, sessionID)
}

// RevokeAllForUser removes every session of userID.
//
// Sessions created concurrently with this call may survive it.
func (r *Registry) RevokeAllForUser(ctx context.Context, userID string) error {
	userKey := r.userKey(userID)
	ids, err := r.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, r.key(id))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveSessionIDs lists the indexed session ids of userID.
func (r *Registry) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping measures Redis round-trip latency.
func (r *Registry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (r *Registry) delete(ctx context.Context, userID, sessionID string) error {
	keys := []string{r.key(sessionID), r.userKey(userID)}
	if err := deleteSessionLua.Run(ctx, r.redis, keys, sessionID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
