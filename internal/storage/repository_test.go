package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ecu/internal/activity"
	"ecu/internal/log"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "ecu.db"), log.Discard())
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

const (
	ana = "0b6f1c9e-8d5a-4f7e-9a51-2f6d0e4c7b13"
	bob = "7d2e4a10-3c9b-4b8e-8f06-5a1d9e2c4b77"
)

func TestRecordAndRecent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	older := activity.NewEvent(activity.KindExport, nil)
	older.UserID = ana
	older.OccurredAt = base
	older.Transactions, older.Categories, older.Bytes = 2, 1, 321

	newer := activity.NewEvent(activity.KindImport, errors.New("Failed to import data"))
	newer.UserID = ana
	newer.OccurredAt = base.Add(time.Minute)

	for _, e := range []activity.Event{older, newer} {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := repo.Recent(ctx, ana, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != newer.ID || got[0].Success || got[0].Detail != "Failed to import data" {
		t.Fatalf("unexpected newest event: %+v", got[0])
	}
	o := got[1]
	if o.ID != older.ID || o.UserID != ana || o.Kind != older.Kind || !o.Success || o.Transactions != 2 || o.Categories != 1 ||
		o.Bytes != 321 || !o.OccurredAt.Equal(older.OccurredAt) {
		t.Fatalf("stored event differs:\n got %+v\nwant %+v", got[1], older)
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	e := activity.NewEvent(activity.KindLogin, nil)
	e.UserID = ana
	for i := 0; i < 3; i++ {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	got, _ := repo.Recent(ctx, ana, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
}

func TestRecordRejectsInvalidEvent(t *testing.T) {
	repo := newRepo(t)
	if err := repo.Record(context.Background(), activity.Event{Kind: activity.KindLogin}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRecentLimit(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := activity.NewEvent(activity.KindExport, nil)
		e.UserID = ana
		e.OccurredAt = time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC)
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := repo.Recent(ctx, ana, 3)
	if err != nil || len(got) != 3 {
		t.Fatalf("recent = %d events, %v", len(got), err)
	}
	if got[0].OccurredAt.Minute() != 4 {
		t.Fatalf("expected newest first, got %v", got[0].OccurredAt)
	}
}

func TestRecentIsScopedToUser(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	for _, owner := range []string{ana, bob, ana, ""} {
		e := activity.NewEvent(activity.KindExport, nil)
		e.UserID = owner
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	tests := []struct {
		user string
		want int
	}{
		{ana, 2},
		{bob, 1},
		{"", 0},
		{"1f0c5b3a-0000-4000-8000-000000000000", 0},
	}
	for _, tt := range tests {
		got, err := repo.Recent(ctx, tt.user, 10)
		if err != nil {
			t.Fatalf("recent %q: %v", tt.user, err)
		}
		if len(got) != tt.want {
			t.Errorf("recent %q = %d events, want %d", tt.user, len(got), tt.want)
		}
		for _, e := range got {
			if e.UserID != tt.user {
				t.Errorf("recent %q returned event of %q", tt.user, e.UserID)
			}
		}
	}
}

func TestRunMigrationsReportsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecu.db")
	for i := 0; i < 2; i++ {
		v, err := RunMigrations(path)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if v != 2 {
			t.Fatalf("run %d: version = %d", i, v)
		}
	}
}
