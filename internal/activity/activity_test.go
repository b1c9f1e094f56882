package activity

import (
	"context"
	"errors"
	"testing"
)

type recorderFunc func(context.Context, Event) error

func (f recorderFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }

func TestNewEvent(t *testing.T) {
	ok := NewEvent(KindExport, nil)
	if !ok.Success || ok.Detail != "" {
		t.Fatalf("unexpected success event: %+v", ok)
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	failed := NewEvent(KindImport, errors.New("Failed to import data"))
	if failed.Success || failed.Detail != "Failed to import data" {
		t.Fatalf("unexpected failure event: %+v", failed)
	}
	if failed.ID == ok.ID {
		t.Fatalf("event ids must differ")
	}
}

func TestValidate(t *testing.T) {
	e := NewEvent(KindLogin, nil)
	e.ID = "nope"
	if e.Validate() == nil {
		t.Fatalf("expected error for bad id")
	}
	e = NewEvent("", nil)
	if e.Validate() == nil {
		t.Fatalf("expected error for empty kind")
	}
}

func TestMultiRecordsEverywhere(t *testing.T) {
	var calls int
	boom := errors.New("boom")
	m := Multi{
		recorderFunc(func(context.Context, Event) error { calls++; return nil }),
		nil,
		recorderFunc(func(context.Context, Event) error { calls++; return boom }),
		Nop{},
	}
	err := m.Record(context.Background(), NewEvent(KindExport, nil))
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
}

func TestUserContext(t *testing.T) {
	if got := UserFrom(context.Background()); got != "" {
		t.Fatalf("empty context user = %q", got)
	}
	ctx := WithUser(context.Background(), "0b6f1c9e-8d5a-4f7e-9a51-2f6d0e4c7b13")
	if got := UserFrom(ctx); got != "0b6f1c9e-8d5a-4f7e-9a51-2f6d0e4c7b13" {
		t.Fatalf("user = %q", got)
	}
}
