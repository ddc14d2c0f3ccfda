// Package sqlite implements flow.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/flowgraph"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs when it is opened, when Init runs
// (with its elapsed time) and when a workflow is saved (with its key and
// size). If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements flow.Store backed by a local SQLite file. Workflow
// definitions and cache snapshots are stored as JSON text.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ flow.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			key TEXT PRIMARY KEY,
			definition TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_snapshots (
			workflow_key TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Debug("sqlite: init done", "elapsed", time.Since(start))
	return nil
}

// SaveWorkflow upserts a workflow definition under key.
func (s *Store) SaveWorkflow(ctx context.Context, key string, def flow.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("sqlite: marshal workflow %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (key, definition, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET definition = excluded.definition, updated_at = excluded.updated_at`,
		key, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: save workflow %q: %w", key, err)
	}
	s.logger.Debug("sqlite: workflow saved", "key", key, "bytes", len(data))
	return nil
}

// LoadWorkflow returns the definition stored under key.
func (s *Store) LoadWorkflow(ctx context.Context, key string) (flow.WorkflowDefinition, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return flow.WorkflowDefinition{}, fmt.Errorf("sqlite: workflow %q not found", key)
	}
	if err != nil {
		return flow.WorkflowDefinition{}, fmt.Errorf("sqlite: load workflow %q: %w", key, err)
	}
	var def flow.WorkflowDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return flow.WorkflowDefinition{}, fmt.Errorf("sqlite: decode workflow %q: %w", key, err)
	}
	return def, nil
}

// ListWorkflows returns every stored workflow key, ordered.
func (s *Store) ListWorkflows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM workflows ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list workflows: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteWorkflow removes the definition stored under key.
func (s *Store) DeleteWorkflow(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlite: delete workflow %q: %w", key, err)
	}
	return nil
}

// SaveCacheSnapshot upserts the cache snapshot for workflowKey.
func (s *Store) SaveCacheSnapshot(ctx context.Context, workflowKey string, snap flow.CacheSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot %q: %w", workflowKey, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_snapshots (workflow_key, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(workflow_key) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		workflowKey, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot %q: %w", workflowKey, err)
	}
	return nil
}

// LoadCacheSnapshot returns the snapshot for workflowKey, or nil when no
// snapshot has been saved yet.
func (s *Store) LoadCacheSnapshot(ctx context.Context, workflowKey string) (flow.CacheSnapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM cache_snapshots WHERE workflow_key = ?`, workflowKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load snapshot %q: %w", workflowKey, err)
	}
	var snap flow.CacheSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("sqlite: decode snapshot %q: %w", workflowKey, err)
	}
	return snap, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
