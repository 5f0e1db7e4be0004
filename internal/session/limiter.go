package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeLimiter counts failed access-code attempts per share token. Once a
// token accumulates maxAttempts failures inside the window, further verify
// calls are refused until the window key expires. A nil *CodeLimiter
// performs no limiting, so callers without Redis can pass one through.
type CodeLimiter struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
}

func NewCodeLimiter(client *redis.Client, maxAttempts int, window time.Duration) *CodeLimiter {
	return &CodeLimiter{
		client:      client,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

func (l *CodeLimiter) key(token string) string {
	return "code_attempts:" + token
}

// Blocked reports whether the token has exhausted its attempt budget.
func (l *CodeLimiter) Blocked(ctx context.Context, token string) (bool, error) {
	if l == nil {
		return false, nil
	}
	count, err := l.client.Get(ctx, l.key(token)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read attempt count: %w", err)
	}
	return count >= l.maxAttempts, nil
}

// RecordFailure bumps the counter and starts the window on the first
// failure. Returns true once the budget is exhausted.
func (l *CodeLimiter) RecordFailure(ctx context.Context, token string) (bool, error) {
	if l == nil {
		return false, nil
	}
	key := l.key(token)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("record attempt: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("set attempt window: %w", err)
		}
	}
	return count >= int64(l.maxAttempts), nil
}

// Reset clears the counter after a successful verification.
func (l *CodeLimiter) Reset(ctx context.Context, token string) error {
	if l == nil {
		return nil
	}
	if err := l.client.Del(ctx, l.key(token)).Err(); err != nil {
		return fmt.Errorf("reset attempt count: %w", err)
	}
	return nil
}
