package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"optikpos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func stubWithUser(username, password, role string) *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			username: {
				Username:  username,
				Password:  password,
				Role:      role,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestTokenRoundTrip(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, stubWithUser("staff", "staff123", "staff"))

	resp, err := manager.Login(domain.LoginRequest{Username: "staff", Password: "staff123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "staff" || actor.Role != "staff" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("secret-one", time.Hour, stubWithUser("staff", "staff123", "staff"))
	verifier := NewAuthManager("secret-two", time.Hour, nil)

	resp, err := issuer.Login(domain.LoginRequest{Username: "staff", Password: "staff123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
	if _, err := verifier.ParseToken("not-a-token"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestLoginRejectsBadCredentialsAndInactiveAccounts(t *testing.T) {
	store := stubWithUser("staff", "staff123", "staff")
	inactive := store.users["staff"]
	inactive.Username = "former"
	inactive.Active = false
	store.users["former"] = inactive

	manager := NewAuthManager("test-secret", time.Hour, store)

	if _, err := manager.Login(domain.LoginRequest{Username: "staff", Password: "wrong"}); err == nil {
		t.Fatalf("expected wrong password to be rejected")
	}
	if _, err := manager.Login(domain.LoginRequest{Username: "ghost", Password: "staff123"}); err == nil {
		t.Fatalf("expected unknown user to be rejected")
	}
	if _, err := manager.Login(domain.LoginRequest{Username: "former", Password: "staff123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := stubWithUser("admin", "admin123", "admin")

	manager := NewAuthManager("test-secret", time.Hour, store)
	if _, err := manager.Login(domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if store.updates == 0 {
		t.Fatalf("expected the upgraded hash to be written back to the store")
	}
}
