package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"ecu/internal/api"
	"ecu/internal/api/memory"
	"ecu/internal/core"
	"ecu/internal/log"
)

func newSession(t *testing.T) (*Session, *api.Client) {
	t.Helper()
	ts := httptest.NewServer(memory.NewServer(memory.WithBcryptCost(bcrypt.MinCost)))
	t.Cleanup(ts.Close)
	c := api.New(ts.URL, api.WithLogger(log.Discard()))
	return New(c), c
}

var ana = core.NewUser{Username: "ana", Password: "password123"}

func TestSignupSetsFlagAndLogoutClears(t *testing.T) {
	s, _ := newSession(t)
	ctx := context.Background()

	var seen []bool
	cancel := s.Subscribe(func(v bool) { seen = append(seen, v) })
	defer cancel()

	if err := s.Signup(ctx, ana); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if !s.LoggedIn() || !s.Credential().Valid() {
		t.Fatalf("expected logged in with credential")
	}
	to, err := s.Logout(ctx)
	if err != nil || to != LoginPath {
		t.Fatalf("logout = %q, %v", to, err)
	}
	if s.LoggedIn() || s.Credential() != "" {
		t.Fatalf("expected cleared session")
	}
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Fatalf("notifications = %v", seen)
	}
}

func TestFailedLoginLeavesStateUntouched(t *testing.T) {
	s, _ := newSession(t)
	err := s.Login(context.Background(), core.NewUser{Username: "nobody", Password: "password123"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if s.LoggedIn() || s.Credential() != "" {
		t.Fatalf("state changed after failed login")
	}
}

func TestCheck(t *testing.T) {
	s, c := newSession(t)
	ctx := context.Background()
	cred, err := c.Signup(ctx, ana)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	s.Restore(cred)
	if s.LoggedIn() {
		t.Fatalf("restore must not mark logged in")
	}
	u, err := s.Check(ctx)
	if err != nil || u.Username != "ana" || !s.LoggedIn() {
		t.Fatalf("check = %+v, %v, loggedIn=%v", u, err, s.LoggedIn())
	}

	s.Restore("00000000-0000-0000-0000-000000000000")
	if _, err := s.Check(ctx); !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if s.LoggedIn() {
		t.Fatalf("failed check must clear flag")
	}
}

func TestCancelStopsNotifications(t *testing.T) {
	s, _ := newSession(t)
	calls := 0
	cancel := s.Subscribe(func(bool) { calls++ })
	cancel()
	if err := s.Signup(context.Background(), ana); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if calls != 0 {
		t.Fatalf("cancelled subscriber called %d times", calls)
	}
}
