package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/internal/domain"
	"tillpoint/internal/store/memory"
	"tillpoint/internal/tax"
)

func newTestAuth(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()
	t.Setenv("SEED_OWNER_PASSWORD", "owner-test-pw")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-test-pw")

	calc := tax.NewCalculator(decimal.RequireFromString("0.05"), decimal.RequireFromString("0.06"))
	repo := memory.NewSeeded(calc)
	return NewAuthManager("test-secret-at-least-32-characters!!", time.Hour, repo), repo
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "owner-test-pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected access token")
	}
	if !resp.Manager {
		t.Fatal("owner should be a manager")
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if actor.Username != "owner" {
		t.Fatalf("username = %q, want owner", actor.Username)
	}
	if !actor.Manager {
		t.Fatal("actor should carry the manager flag")
	}
	if actor.UserID == "" {
		t.Fatal("actor should carry the user id")
	}
}

func TestLoginIsCaseInsensitiveOnUsername(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "  OWNER  ", Password: "owner-test-pw"}); err != nil {
		t.Fatalf("Login with mixed-case username: %v", err)
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "whatever-pw"}); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "cashier", Password: "cashier-test-pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	tampered := resp.AccessToken[:len(resp.AccessToken)-2] + "xx"
	if _, err := auth.ParseToken(tampered); err == nil {
		t.Fatal("expected error for tampered token")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	auth, repo := newTestAuth(t)
	other := NewAuthManager("another-secret-with-32-characters!!!", time.Hour, repo)

	resp, err := other.Login(context.Background(), domain.LoginRequest{Username: "cashier", Password: "cashier-test-pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected error for token signed with a different secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	t.Setenv("SEED_OWNER_PASSWORD", "owner-test-pw")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-test-pw")

	calc := tax.NewCalculator(decimal.RequireFromString("0.05"), decimal.RequireFromString("0.06"))
	repo := memory.NewSeeded(calc)
	auth := NewAuthManager("test-secret-at-least-32-characters!!", time.Hour, repo)

	user, err := repo.GetUserByUsername(context.Background(), "owner")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	token, err := auth.sign(user, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatal("expected error for expired token")
	}
}
