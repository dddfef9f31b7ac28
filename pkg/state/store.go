// Package state persists run history, sync baselines, and the per-boot
// session cache in a local SQLite database.
package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/manifest"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed state store. It implements the engine's
// StateStore interface.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a new store instance. Call Init and Migrate before use.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &Store{
		cfg: cfg,
	}, nil
}

// Init opens the database connection and applies connection pragmas.
func (s *Store) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if s.cfg.Path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.cfg.Path == ":memory:" {
		// Every pool connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *Store) Migrate(_ context.Context) error {
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

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// RecordRun appends one run and its item rows to the history.
func (s *Store) RecordRun(ctx context.Context, rec *engine.RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runQuery := `
		INSERT INTO runs (id, operation, hostname, started_at, finished_at, dry_run, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, runQuery,
		rec.ID,
		string(rec.Operation),
		rec.Hostname,
		rec.StartedAt,
		rec.FinishedAt,
		rec.DryRun,
		rec.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	itemQuery := `
		INSERT INTO run_items (run_id, seq, subsystem, item_id, action, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for i, item := range rec.Items {
		_, err := tx.ExecContext(ctx, itemQuery,
			rec.ID,
			i,
			item.Subsystem,
			item.ItemID,
			item.Action,
			item.Status,
			item.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

// GetRun retrieves a run and its item rows by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*engine.RunRecord, error) {
	runQuery := `
		SELECT id, operation, hostname, started_at, finished_at, dry_run, exit_code
		FROM runs
		WHERE id = ?
	`

	rec := &engine.RunRecord{}
	var operation string
	err := s.db.QueryRowContext(ctx, runQuery, id).Scan(
		&rec.ID,
		&operation,
		&rec.Hostname,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.DryRun,
		&rec.ExitCode,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	rec.Operation = engine.Operation(operation)

	itemQuery := `
		SELECT subsystem, item_id, action, status, error
		FROM run_items
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, itemQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list run items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item engine.RunItemRecord
		var errMsg sql.NullString
		if err := rows.Scan(&item.Subsystem, &item.ItemID, &item.Action, &item.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run item: %w", err)
		}
		item.Error = errMsg.String
		rec.Items = append(rec.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run items: %w", err)
	}

	return rec, nil
}

// ListRuns lists recorded runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*RunSummary, error) {
	query := `
		SELECT r.id, r.operation, r.hostname, r.started_at, r.finished_at, r.dry_run, r.exit_code,
		       COUNT(i.id)
		FROM runs r
		LEFT JOIN run_items i ON i.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunSummary{}
	for rows.Next() {
		run := &RunSummary{}
		err := rows.Scan(
			&run.ID,
			&run.Operation,
			&run.Hostname,
			&run.StartedAt,
			&run.FinishedAt,
			&run.DryRun,
			&run.ExitCode,
			&run.ItemCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// PruneRuns deletes all but the newest keep runs and returns how many were
// removed. Item rows follow through the foreign key cascade.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}

	query := `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// SaveBaseline replaces the baseline snapshot for a subsystem.
func (s *Store) SaveBaseline(ctx context.Context, subsystem string, m *manifest.Manifest, runID string) error {
	if subsystem == "" {
		return fmt.Errorf("subsystem is required")
	}
	if m == nil {
		return fmt.Errorf("baseline manifest is required")
	}

	payload, err := json.Marshal(m.Items())
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}

	query := `
		INSERT INTO baselines (subsystem, items, run_id, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subsystem) DO UPDATE SET
			items = excluded.items,
			run_id = excluded.run_id,
			saved_at = excluded.saved_at
	`

	_, err = s.db.ExecContext(ctx, query, subsystem, string(payload), runID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}

	return nil
}

// LoadBaseline returns the baseline snapshot for a subsystem, with ok=false
// when none has been taken.
func (s *Store) LoadBaseline(ctx context.Context, subsystem string) (*manifest.Manifest, bool, error) {
	query := `SELECT items FROM baselines WHERE subsystem = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, subsystem).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load baseline: %w", err)
	}

	var items []manifest.Item
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, false, fmt.Errorf("failed to decode baseline: %w", err)
	}

	m, err := manifest.FromItems(items)
	if err != nil {
		return nil, false, fmt.Errorf("failed to rebuild baseline: %w", err)
	}

	return m, true, nil
}

// ListBaselines lists stored baselines without their item payloads.
func (s *Store) ListBaselines(ctx context.Context) ([]*BaselineInfo, error) {
	query := `
		SELECT subsystem, items, run_id, saved_at
		FROM baselines
		ORDER BY subsystem ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	defer rows.Close()

	infos := []*BaselineInfo{}
	for rows.Next() {
		info := &BaselineInfo{}
		var payload string
		if err := rows.Scan(&info.Subsystem, &payload, &info.RunID, &info.SavedAt); err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}

		var items []manifest.Item
		if err := json.Unmarshal([]byte(payload), &items); err != nil {
			return nil, fmt.Errorf("failed to decode baseline: %w", err)
		}
		info.ItemCount = len(items)

		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating baselines: %w", err)
	}

	return infos, nil
}

// DeleteBaseline removes the baseline snapshot for a subsystem.
func (s *Store) DeleteBaseline(ctx context.Context, subsystem string) error {
	query := `DELETE FROM baselines WHERE subsystem = ?`

	result, err := s.db.ExecContext(ctx, query, subsystem)
	if err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("baseline not found: %s", subsystem)
	}

	return nil
}

// getCacheEntry reads a session cache row regardless of boot.
func (s *Store) getCacheEntry(ctx context.Context, key string) (value []byte, bootID string, ok bool, err error) {
	query := `SELECT boot_id, value FROM session_cache WHERE key = ?`

	err = s.db.QueryRowContext(ctx, query, key).Scan(&bootID, &value)
	if err == sql.ErrNoRows {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to read session cache: %w", err)
	}

	return value, bootID, true, nil
}

// putCacheEntry writes a session cache row for the given boot.
func (s *Store) putCacheEntry(ctx context.Context, key, bootID string, value []byte) error {
	query := `
		INSERT INTO session_cache (key, boot_id, value, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			boot_id = excluded.boot_id,
			value = excluded.value,
			created_at = excluded.created_at
	`

	_, err := s.db.ExecContext(ctx, query, key, bootID, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}

	return nil
}

// PurgeStaleSessions deletes cache rows written under other boots and
// returns how many were removed.
func (s *Store) PurgeStaleSessions(ctx context.Context, currentBootID string) (int64, error) {
	query := `DELETE FROM session_cache WHERE boot_id != ?`

	result, err := s.db.ExecContext(ctx, query, currentBootID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge session cache: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
