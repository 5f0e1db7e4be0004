package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "hash-1", "usr_1", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_1" {
		t.Errorf("expected usr_1, got %s", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveRefreshSession(ctx, "hash-exp", "usr_2", time.Now().Add(time.Millisecond)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupRefreshSession(ctx, "hash-exp"); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveRefreshSession(ctx, "hash-rev", "usr_3", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "hash-rev"); err == nil {
		t.Error("expected error for revoked token, got nil")
	}

	// Revoking again is a no-op, not an error.
	if err := store.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Errorf("second revoke failed: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	if err := store.SaveRefreshSession(ctx, "hash-a", "usr_a", expiresAt); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRefreshSession(ctx, "hash-b", "usr_b", expiresAt); err != nil {
		t.Fatal(err)
	}
	if err := store.RevokeRefreshSession(ctx, "hash-a"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.LookupRefreshSession(ctx, "hash-a"); err == nil {
		t.Error("revoked hash-a still resolves")
	}
	user, err := store.LookupRefreshSession(ctx, "hash-b")
	if err != nil {
		t.Fatalf("hash-b lookup failed: %v", err)
	}
	if user.ID != "usr_b" {
		t.Errorf("expected usr_b, got %s", user.ID)
	}
}
