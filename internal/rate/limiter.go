package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds throttle budgets.
type Config struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	MaxSyncAttempts       int
	SyncWindow            time.Duration
}

// Limiter enforces login and identity-sync budgets with Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func loginUserKey(email string) string {
	return "sl:" + strings.ToLower(strings.TrimSpace(email))
}

func loginIPKey(ip string) string {
	return "sli:" + ip
}

func syncKey(uid string) string {
	return "sy:" + uid
}

// CheckLogin reports ErrRateLimited when email or ip has spent its failed
// login budget. It does not consume budget.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if err := l.checkCounter(ctx, loginUserKey(email), l.config.MaxLoginAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login attempt for email and ip.
func (l *Limiter) IncrementLogin(ctx context.Context, email, ip string) error {
	count, err := l.incrementWithTTL(ctx, loginUserKey(email), l.config.LoginCooldownDuration)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginCooldownDuration)
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the failed-login counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, email, ip string) error {
	keys := []string{loginUserKey(email)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// LoginRetryAfter returns how long until the email window resets.
func (l *Limiter) LoginRetryAfter(ctx context.Context, email string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, loginUserKey(email)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// CheckSync consumes one identity-sync call for uid. A zero budget disables
// the throttle.
func (l *Limiter) CheckSync(ctx context.Context, uid string) error {
	if l.config.MaxSyncAttempts <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, syncKey(uid), l.config.SyncWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxSyncAttempts) {
		return ErrRateLimited
	}

	return nil
}

// GetLoginAttempts returns the current failed-login counter for email.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) GetLoginAttempts(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, loginUserKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
