// Package activity records the outcome of exports, imports and
// authentication events so they can be reviewed later.
package activity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindExport       Kind = "export"
	KindExportSheets Kind = "export_sheets"
	KindImport       Kind = "import"
	KindLogin        Kind = "login"
	KindSignup       Kind = "signup"
	KindLogout       Kind = "logout"
)

// Event is one journal entry. UserID names the account it belongs to and is
// empty only for failed logins and signups, which have no account yet.
type Event struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Kind         Kind      `json:"kind"`
	Success      bool      `json:"success"`
	Transactions int       `json:"transactions"`
	Categories   int       `json:"categories"`
	Bytes        int       `json:"bytes"`
	Detail       string    `json:"detail,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewEvent builds an event for kind; a non-nil err marks it failed and
// becomes the detail.
func NewEvent(kind Kind, err error) Event {
	e := Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Success:    err == nil,
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

// Validate checks the fields every stored event must have.
func (e Event) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return errors.New("event id must be a uuid")
	}
	if e.Kind == "" {
		return errors.New("event kind is required")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("event time is required")
	}
	return nil
}

type userKey struct{}

// WithUser marks ctx as acting for userID, so code that records events
// without knowing the user can still attribute them.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user set by WithUser, or "".
func UserFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Lister returns a user's most recent events first.
type Lister interface {
	Recent(ctx context.Context, userID string, limit int) ([]Event, error)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Multi fans an event out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
