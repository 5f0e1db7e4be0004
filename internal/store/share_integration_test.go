package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

// TestShareMutateSerializesTransitions verifies that concurrent MutateShare
// calls on the same token serialize on the row lock, so the final state is
// one of the two requested transitions applied after the other, never an
// interleaving.
func TestShareMutateSerializesTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDB(ctx, t)
	defer db.Close()

	s := NewPostgresStore(db)
	token := seedShare(ctx, t, s, "share-lock-test")

	var wg sync.WaitGroup
	transition := func(status string) {
		defer wg.Done()
		_, err := s.MutateShare(ctx, token, func(share *ProfileShare) error {
			if share.Status != "active" {
				return errors.New("already closed")
			}
			share.Status = status
			return nil
		})
		if err != nil && err.Error() != "already closed" {
			t.Errorf("mutate share: %v", err)
		}
	}
	wg.Add(2)
	go transition("revoked")
	go transition("expired")
	wg.Wait()

	share, err := s.GetShareByToken(ctx, token)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if share.Status != "revoked" && share.Status != "expired" {
		t.Fatalf("unexpected final status %q", share.Status)
	}
}

func TestShareMutateRollsBackOnError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDB(ctx, t)
	defer db.Close()

	s := NewPostgresStore(db)
	token := seedShare(ctx, t, s, "share-rollback-test")

	_, err := s.MutateShare(ctx, token, func(share *ProfileShare) error {
		share.Status = "revoked"
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error from fn")
	}

	share, err := s.GetShareByToken(ctx, token)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if share.Status != "active" {
		t.Fatalf("rolled-back mutation leaked: status %q", share.Status)
	}
}

func TestShareNotFoundIsNoRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDB(ctx, t)
	defer db.Close()

	s := NewPostgresStore(db)
	_, err := s.GetShareByToken(ctx, "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func openTestDB(ctx context.Context, t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		db.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func seedShare(ctx context.Context, t *testing.T, s *PostgresStore, suffix string) string {
	t.Helper()

	userID := "usr_" + suffix
	customerID := "cus_" + suffix
	token := "tok_" + suffix

	_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err := s.CreateUser(ctx, User{ID: userID, Email: suffix + "@example.test", PasswordHash: "x", Role: "CUSTOMER"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := s.CreateCustomer(ctx, Customer{ID: customerID, UserID: userID, Name: "Test", ProfileData: `{"forms":{}}`}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if err := s.CreateShare(ctx, ProfileShare{
		Token:                   token,
		CodeHash:                "hash",
		CustomerID:              customerID,
		RecipientName:           "Agent Test",
		RecipientNameNormalized: "agent test",
		Sections:                `{"household":true}`,
		Snapshot:                `{"household":{}}`,
		Status:                  "active",
		PendingStatus:           "none",
		LastAccessedAt:          time.Now(),
	}); err != nil {
		t.Fatalf("seed share: %v", err)
	}
	return token
}

// getTestDatabaseURL returns the database URL for testing, preferring
// TEST_DATABASE_URL and falling back to the standard Postgres env variables.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenv("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "connsura")
	pass := getenv("POSTGRES_PASSWORD", "connsura")
	dbname := getenv("POSTGRES_DB", "connsura_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
