package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLimiter(t *testing.T, maxAttempts int, window time.Duration) (*CodeLimiter, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCodeLimiter(client, maxAttempts, window), s
}

func TestLimiterBlocksAfterMaxFailures(t *testing.T) {
	limiter, _ := setupLimiter(t, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		exhausted, err := limiter.RecordFailure(ctx, "tok_1")
		if err != nil {
			t.Fatal(err)
		}
		if exhausted {
			t.Fatalf("exhausted after %d failures", i+1)
		}
	}

	exhausted, err := limiter.RecordFailure(ctx, "tok_1")
	if err != nil {
		t.Fatal(err)
	}
	if !exhausted {
		t.Fatal("third failure should exhaust the budget")
	}

	blocked, err := limiter.Blocked(ctx, "tok_1")
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Error("token should be blocked")
	}
}

func TestLimiterWindowExpires(t *testing.T) {
	limiter, s := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if _, err := limiter.RecordFailure(ctx, "tok_2"); err != nil {
		t.Fatal(err)
	}
	if blocked, _ := limiter.Blocked(ctx, "tok_2"); !blocked {
		t.Fatal("token should be blocked inside the window")
	}

	s.FastForward(2 * time.Minute)

	if blocked, _ := limiter.Blocked(ctx, "tok_2"); blocked {
		t.Error("window expiry should unblock the token")
	}
}

func TestLimiterResetOnSuccess(t *testing.T) {
	limiter, _ := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if _, err := limiter.RecordFailure(ctx, "tok_3"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Reset(ctx, "tok_3"); err != nil {
		t.Fatal(err)
	}
	if blocked, _ := limiter.Blocked(ctx, "tok_3"); blocked {
		t.Error("reset should clear the counter")
	}
}

func TestLimiterTokensIndependent(t *testing.T) {
	limiter, _ := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if _, err := limiter.RecordFailure(ctx, "tok_a"); err != nil {
		t.Fatal(err)
	}
	if blocked, _ := limiter.Blocked(ctx, "tok_b"); blocked {
		t.Error("failures on tok_a must not block tok_b")
	}
}
