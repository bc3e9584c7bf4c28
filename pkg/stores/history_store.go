package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested transition does not exist.
var ErrNotFound = errors.New("transition not found")

// HistoryStore persists transition outcomes in SQLite.
type HistoryStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewHistoryStore creates a new history store instance
func NewHistoryStore(cfg Config) (*HistoryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &HistoryStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *HistoryStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *HistoryStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *HistoryStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// SaveTransition writes a transition record and its action rows in one
// transaction.
func (s *HistoryStore) SaveTransition(ctx context.Context, rec *TransitionRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO transitions (
			uuid, source, started_at, completed_at,
			confirmed, failed, skipped, aborted, abort_reason, completion_action
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		rec.UUID,
		rec.Source,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.CompletedAt.UTC().Format(timeLayout),
		rec.Confirmed,
		rec.Failed,
		rec.Skipped,
		rec.Aborted,
		rec.AbortReason,
		rec.CompletionAction,
	)
	if err != nil {
		return fmt.Errorf("failed to save transition: %w", err)
	}

	actionQuery := `
		INSERT INTO transition_actions (
			transition_uuid, action_id, name, task, node, resource,
			pseudo, optional, status, exit_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, a := range rec.Actions {
		_, err = tx.ExecContext(ctx, actionQuery,
			rec.UUID,
			a.ActionID,
			a.Name,
			a.Task,
			a.Node,
			a.Resource,
			a.Pseudo,
			a.Optional,
			a.Status,
			a.ExitCode,
		)
		if err != nil {
			return fmt.Errorf("failed to save action %d: %w", a.ActionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// GetTransition retrieves a transition and its action rows by UUID.
func (s *HistoryStore) GetTransition(ctx context.Context, uuid string) (*TransitionRecord, error) {
	query := `
		SELECT uuid, source, started_at, completed_at,
			   confirmed, failed, skipped, aborted, abort_reason, completion_action
		FROM transitions
		WHERE uuid = ?
	`

	rec, err := s.scanTransition(s.db.QueryRowContext(ctx, query, uuid))
	if err != nil {
		return nil, err
	}

	actionQuery := `
		SELECT action_id, name, task, node, resource, pseudo, optional, status, exit_code
		FROM transition_actions
		WHERE transition_uuid = ?
		ORDER BY action_id ASC
	`
	rows, err := s.db.QueryContext(ctx, actionQuery, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a := ActionRecord{}
		err := rows.Scan(
			&a.ActionID,
			&a.Name,
			&a.Task,
			&a.Node,
			&a.Resource,
			&a.Pseudo,
			&a.Optional,
			&a.Status,
			&a.ExitCode,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		rec.Actions = append(rec.Actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return rec, nil
}

// ListTransitions lists transitions newest first, with pagination. Action
// rows are not populated.
func (s *HistoryStore) ListTransitions(ctx context.Context, limit, offset int) ([]*TransitionRecord, error) {
	query := `
		SELECT uuid, source, started_at, completed_at,
			   confirmed, failed, skipped, aborted, abort_reason, completion_action
		FROM transitions
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	records := []*TransitionRecord{}
	for rows.Next() {
		rec, err := s.scanTransition(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return records, nil
}

// PruneBefore deletes transitions that completed before the cutoff, returning
// the number of rows removed. Action rows are removed by cascade.
func (s *HistoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM transitions WHERE completed_at < ?`

	result, err := s.db.ExecContext(ctx, query, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune transitions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// timeLayout is the SQLite-compatible datetime string format.
const timeLayout = "2006-01-02 15:04:05"

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *HistoryStore) scanTransition(row rowScanner) (*TransitionRecord, error) {
	rec := &TransitionRecord{}
	var started, completed string
	err := row.Scan(
		&rec.UUID,
		&rec.Source,
		&started,
		&completed,
		&rec.Confirmed,
		&rec.Failed,
		&rec.Skipped,
		&rec.Aborted,
		&rec.AbortReason,
		&rec.CompletionAction,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transition: %w", err)
	}

	if rec.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if rec.CompletedAt, err = time.Parse(timeLayout, completed); err != nil {
		return nil, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	return rec, nil
}
