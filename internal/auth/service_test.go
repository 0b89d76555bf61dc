package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-core/internal/config"
	"chat-core/internal/database"
	"chat-core/internal/models"
)

func newTestService(t *testing.T) (*Service, *database.MemoryDB) {
	t.Helper()
	db := database.NewMemoryDB()
	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:    []byte("test-secret"),
			ExpiresIn: time.Hour,
		},
	}
	return NewService(db, cfg), db
}

func register(t *testing.T, s *Service, name, email, password string) *models.LoginResponse {
	t.Helper()
	resp, err := s.Register(context.Background(), &models.RegisterRequest{
		Username: name,
		Email:    email,
		Password: password,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return resp
}

func TestRegisterAndLogin(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	reg := register(t, s, "alice", "alice@example.com", "password123")
	if reg.Token == "" {
		t.Fatal("registration returned empty token")
	}
	if reg.User.ID == "" {
		t.Fatal("registration returned empty user id")
	}
	if reg.User.PasswordHash != "" {
		t.Fatal("password hash leaked in registration response")
	}

	login, err := s.Login(ctx, &models.LoginRequest{
		Email:    "alice@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Fatalf("login user id = %s, want %s", login.User.ID, reg.User.ID)
	}
	if login.User.PasswordHash != "" {
		t.Fatal("password hash leaked in login response")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	register(t, s, "alice", "alice@example.com", "password123")

	wrongPass, err1 := s.Login(ctx, &models.LoginRequest{Email: "alice@example.com", Password: "wrong"})
	noUser, err2 := s.Login(ctx, &models.LoginRequest{Email: "nobody@example.com", Password: "password123"})

	if wrongPass != nil || noUser != nil {
		t.Fatal("login succeeded with bad credentials")
	}
	// Both failure modes must be indistinguishable to the caller.
	if err1 == nil || err2 == nil || err1.Error() != err2.Error() {
		t.Fatalf("error mismatch: %v vs %v", err1, err2)
	}
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.RegisterRequest
	}{
		{"missing fields", models.RegisterRequest{Username: "alice"}},
		{"bad email", models.RegisterRequest{Username: "alice", Email: "not-an-email", Password: "password123"}},
		{"short password", models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "short"}},
		{"short username", models.RegisterRequest{Username: "ab", Email: "alice@example.com", Password: "password123"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			if _, err := s.Register(ctx, &req); !errors.Is(err, models.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestGetUserFromToken(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	reg := register(t, s, "alice", "alice@example.com", "password123")

	user, err := s.GetUserFromToken(ctx, reg.Token)
	if err != nil {
		t.Fatalf("GetUserFromToken: %v", err)
	}
	if user.ID != reg.User.ID || user.Username != "alice" {
		t.Fatalf("user = %+v, want alice (%s)", user, reg.User.ID)
	}

	if _, err := s.GetUserFromToken(ctx, "not.a.token"); err == nil {
		t.Fatal("garbage token accepted")
	}
}

func TestTokenSignedWithDifferentSecretRejected(t *testing.T) {
	s, _ := newTestService(t)
	other, _ := newTestService(t)
	other.cfg.JWT.Secret = []byte("different-secret")

	reg := register(t, other, "alice", "alice@example.com", "password123")

	if _, err := s.ValidateToken(reg.Token); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
}

func TestUpdateProfile(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	reg := register(t, s, "alice", "alice@example.com", "password123")

	avatar := "http://localhost:8080/files/avatars/a.png"
	user, err := s.UpdateProfile(ctx, reg.User.ID, &models.UpdateProfileRequest{
		Username:  "alice-renamed",
		AvatarURL: &avatar,
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Username != "alice-renamed" {
		t.Fatalf("username = %s, want alice-renamed", user.Username)
	}
	if user.AvatarURL == nil || *user.AvatarURL != avatar {
		t.Fatalf("avatar = %v, want %s", user.AvatarURL, avatar)
	}

	if _, err := s.UpdateProfile(ctx, reg.User.ID, &models.UpdateProfileRequest{Username: "x"}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}
