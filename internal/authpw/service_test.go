package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"connsura/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	customers  map[string]store.Customer // userID -> customer
	emailIndex map[string]string         // email -> userID
	resets     map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		customers:  make(map[string]store.Customer),
		emailIndex: make(map[string]string),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) CreateCustomer(ctx context.Context, customer store.Customer) error {
	m.customers[customer.UserID] = customer
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
	}
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	for id, user := range m.users {
		if user.VerificationToken == token {
			user.IsEmailVerified = true
			m.users[id] = user
			return nil
		}
	}
	return errors.New("invalid token")
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt, used: false}
	return nil
}

func (m *mockUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	t.Run("customer sign up creates profile", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "test@example.com",
			Password:    "password123",
			DisplayName: "Test User",
			Role:        "CUSTOMER",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.UserID == "" {
			t.Error("expected UserID to be set")
		}
		if resp.VerificationToken == "" {
			t.Error("expected VerificationToken to be set")
		}
		if !resp.RequiresEmailVerify {
			t.Error("expected RequiresEmailVerify to be true")
		}
		if _, ok := mockStore.customers[resp.UserID]; !ok {
			t.Error("expected a customer profile record")
		}
	})

	t.Run("agent sign up skips profile", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "agent@example.com",
			Password:    "password123",
			DisplayName: "Agent User",
			Role:        "AGENT",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := mockStore.customers[resp.UserID]; ok {
			t.Error("agents must not get a customer profile")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "test@example.com",
			Password:    "password123",
			DisplayName: "Test User 2",
			Role:        "CUSTOMER",
		})
		if err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "test2@example.com",
			Password:    "short",
			DisplayName: "Test User",
			Role:        "CUSTOMER",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("admin role rejected at sign up", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "admin@example.com",
			Password:    "password123",
			DisplayName: "Admin",
			Role:        "ADMIN",
		})
		if err == nil {
			t.Error("expected error for ADMIN self sign-up")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{}); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, _ := svc.SignUp(ctx, SignUpRequest{
		Email:       "test@example.com",
		Password:    "password123",
		DisplayName: "Test User",
		Role:        "CUSTOMER",
	})
	svc.VerifyEmail(ctx, resp.VerificationToken)

	t.Run("successful sign in", func(t *testing.T) {
		signInResp, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if signInResp.User.Email != "test@example.com" {
			t.Errorf("expected email test@example.com, got %s", signInResp.User.Email)
		}
		if signInResp.RequiresVerify {
			t.Error("expected RequiresVerify to be false for verified user")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "wrongpassword",
		})
		if err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "nonexistent@example.com",
			Password: "password123",
		})
		if err == nil {
			t.Error("expected error for non-existent user")
		}
	})

	t.Run("unverified email", func(t *testing.T) {
		svc.SignUp(ctx, SignUpRequest{
			Email:       "unverified@example.com",
			Password:    "password123",
			DisplayName: "Unverified User",
			Role:        "CUSTOMER",
		})

		resp, err := svc.SignIn(ctx, SignInRequest{
			Email:    "unverified@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.RequiresVerify {
			t.Error("expected RequiresVerify to be true for unverified user")
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, _ := svc.SignUp(ctx, SignUpRequest{
		Email:       "test@example.com",
		Password:    "password123",
		DisplayName: "Test User",
		Role:        "CUSTOMER",
	})

	t.Run("valid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		user, _ := mockStore.GetUserByID(ctx, resp.UserID)
		if !user.IsEmailVerified {
			t.Error("expected user to be verified")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, "invalid-token"); err == nil {
			t.Error("expected error for invalid token")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, ""); err == nil {
			t.Error("expected error for empty token")
		}
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, _ := svc.SignUp(ctx, SignUpRequest{
		Email:       "test@example.com",
		Password:    "password123",
		DisplayName: "Test User",
		Role:        "CUSTOMER",
	})
	svc.VerifyEmail(ctx, resp.VerificationToken)

	t.Run("request reset for existing user", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "test@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "" {
			t.Error("expected token to be generated")
		}
	})

	t.Run("request reset for non-existent user - no error", func(t *testing.T) {
		if _, err := svc.RequestPasswordReset(ctx, "nonexistent@example.com"); err != nil {
			t.Errorf("expected no error for non-existent user, got: %v", err)
		}
	})

	t.Run("reset password with valid token", func(t *testing.T) {
		token, _ := svc.RequestPasswordReset(ctx, "test@example.com")

		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       token,
			NewPassword: "newpassword123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "password123",
		}); err == nil {
			t.Error("expected old password to not work")
		}

		if _, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "newpassword123",
		}); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}
	})

	t.Run("reset with invalid token", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       "invalid-token",
			NewPassword: "newpassword123",
		})
		if err == nil {
			t.Error("expected error for invalid token")
		}
	})

	t.Run("reset with short password", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       "some-token",
			NewPassword: "short",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})
}
