package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ecu/internal/activity"
	"ecu/internal/log"

	_ "modernc.org/sqlite"
)

// occurredAtLayout sorts lexically in time order.
const occurredAtLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository is the activity journal.
type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

var (
	_ activity.Recorder = (*SQLiteRepository)(nil)
	_ activity.Lister   = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentStorage)
	logger.Debug("Activity journal ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Record stores e. Recording the same event twice is a no-op, so redelivered
// queue messages do not duplicate entries.
func (r *SQLiteRepository) Record(ctx context.Context, e activity.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid activity event: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_events (id, user_id, kind, success, transactions, categories, bytes, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, string(e.Kind), boolToInt(e.Success), e.Transactions, e.Categories, e.Bytes, e.Detail,
		e.OccurredAt.UTC().Format(occurredAtLayout),
	)
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		r.logger.DebugContext(ctx, "Activity event saved to SQLite",
			log.FieldEventID, e.ID,
			log.FieldUserID, e.UserID,
			log.FieldEventKind, string(e.Kind),
			log.FieldSuccess, e.Success)
	}
	return nil
}

// Recent returns up to limit events of userID, newest first. Events with no
// owner are never returned.
func (r *SQLiteRepository) Recent(ctx context.Context, userID string, limit int) ([]activity.Event, error) {
	if userID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, kind, success, transactions, categories, bytes, detail, occurred_at
		FROM activity_events
		WHERE user_id = ?
		ORDER BY occurred_at DESC, id
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var out []activity.Event
	for rows.Next() {
		var (
			e          activity.Event
			kind       string
			success    int
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &success, &e.Transactions, &e.Categories, &e.Bytes, &e.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		e.Kind = activity.Kind(kind)
		e.Success = success != 0
		if e.OccurredAt, err = time.Parse(occurredAtLayout, occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at %q: %w", occurredAt, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity events: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
