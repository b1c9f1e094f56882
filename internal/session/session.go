// Package session tracks whether the user is logged in and which API
// credential represents them.
package session

import (
	"context"
	"sync"

	"ecu/internal/api"
	"ecu/internal/core"
)

// LoginPath is where callers navigate after logout or a failed check.
const LoginPath = "/login"

// Authenticator is the subset of the API client a Session needs.
type Authenticator interface {
	Login(ctx context.Context, u core.NewUser) (api.Credential, error)
	Signup(ctx context.Context, u core.NewUser) (api.Credential, error)
	Logout(ctx context.Context, cred api.Credential) error
	Me(ctx context.Context, cred api.Credential) (core.User, error)
}

// Session holds the logged-in flag and the credential. It is safe for
// concurrent use.
type Session struct {
	auth Authenticator

	mu          sync.Mutex
	loggedIn    bool
	cred        api.Credential
	subscribers map[int]func(bool)
	nextSub     int
}

func New(auth Authenticator) *Session {
	return &Session{auth: auth, subscribers: map[int]func(bool){}}
}

// Restore seeds the session with a persisted credential. The flag stays
// false until Check confirms it.
func (s *Session) Restore(cred api.Credential) {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
}

// LoggedIn reports the current flag.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Credential returns the current credential, possibly empty.
func (s *Session) Credential() api.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

// Subscribe registers fn to be called with the new flag value whenever it
// changes. The returned func unregisters it.
func (s *Session) Subscribe(fn func(bool)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Login authenticates and, on success, marks the session logged in.
// On failure the state is left untouched.
func (s *Session) Login(ctx context.Context, u core.NewUser) error {
	cred, err := s.auth.Login(ctx, u)
	if err != nil {
		return err
	}
	s.set(true, cred)
	return nil
}

// Signup registers and logs in in one step.
func (s *Session) Signup(ctx context.Context, u core.NewUser) error {
	cred, err := s.auth.Signup(ctx, u)
	if err != nil {
		return err
	}
	s.set(true, cred)
	return nil
}

// Logout ends the session. Local state is cleared even when the API call
// fails; the error is still returned together with the login path.
func (s *Session) Logout(ctx context.Context) (string, error) {
	err := s.auth.Logout(ctx, s.Credential())
	s.set(false, "")
	return LoginPath, err
}

// Check asks the API who owns the credential. The flag mirrors the outcome.
func (s *Session) Check(ctx context.Context) (core.User, error) {
	cred := s.Credential()
	u, err := s.auth.Me(ctx, cred)
	if err != nil {
		s.set(false, cred)
		return core.User{}, err
	}
	s.set(true, cred)
	return u, nil
}

func (s *Session) set(loggedIn bool, cred api.Credential) {
	s.mu.Lock()
	changed := s.loggedIn != loggedIn
	s.loggedIn = loggedIn
	s.cred = cred
	var notify []func(bool)
	if changed {
		for _, fn := range s.subscribers {
			notify = append(notify, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range notify {
		fn(loggedIn)
	}
}
