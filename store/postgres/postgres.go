// Package postgres implements flow.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/flowgraph"
)

// Store implements flow.Store backed by PostgreSQL. Definitions and
// snapshots are stored in JSONB columns.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	schema string // "" = default search path
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithSchema qualifies every table name with the given schema instead of
// relying on the connection's search path.
func WithSchema(schema string) Option {
	return func(c *pgConfig) { c.schema = schema }
}

var _ flow.Store = (*Store)(nil)

// New creates a Store using the given connection pool. The pool remains
// owned by the caller.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

func (s *Store) table(name string) string {
	if s.cfg.schema == "" {
		return name
	}
	return s.cfg.schema + "." + name
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			definition JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table("workflows")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			workflow_key TEXT PRIMARY KEY,
			snapshot JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table("cache_snapshots")),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// SaveWorkflow upserts a workflow definition under key.
func (s *Store) SaveWorkflow(ctx context.Context, key string, def flow.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("postgres: marshal workflow %q: %w", key, err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, definition, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET definition = EXCLUDED.definition, updated_at = now()`,
		s.table("workflows")), key, data)
	if err != nil {
		return fmt.Errorf("postgres: save workflow %q: %w", key, err)
	}
	return nil
}

// LoadWorkflow returns the definition stored under key.
func (s *Store) LoadWorkflow(ctx context.Context, key string) (flow.WorkflowDefinition, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT definition FROM %s WHERE key = $1`, s.table("workflows")), key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return flow.WorkflowDefinition{}, fmt.Errorf("postgres: workflow %q not found", key)
	}
	if err != nil {
		return flow.WorkflowDefinition{}, fmt.Errorf("postgres: load workflow %q: %w", key, err)
	}
	var def flow.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return flow.WorkflowDefinition{}, fmt.Errorf("postgres: decode workflow %q: %w", key, err)
	}
	return def, nil
}

// ListWorkflows returns every stored workflow key, ordered.
func (s *Store) ListWorkflows(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT key FROM %s ORDER BY key`, s.table("workflows")))
	if err != nil {
		return nil, fmt.Errorf("postgres: list workflows: %w", err)
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
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE key = $1`, s.table("workflows")), key)
	if err != nil {
		return fmt.Errorf("postgres: delete workflow %q: %w", key, err)
	}
	return nil
}

// SaveCacheSnapshot upserts the cache snapshot for workflowKey.
func (s *Store) SaveCacheSnapshot(ctx context.Context, workflowKey string, snap flow.CacheSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot %q: %w", workflowKey, err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (workflow_key, snapshot, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (workflow_key) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()`,
		s.table("cache_snapshots")), workflowKey, data)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot %q: %w", workflowKey, err)
	}
	return nil
}

// LoadCacheSnapshot returns the snapshot for workflowKey, or nil when no
// snapshot has been saved yet.
func (s *Store) LoadCacheSnapshot(ctx context.Context, workflowKey string) (flow.CacheSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT snapshot FROM %s WHERE workflow_key = $1`, s.table("cache_snapshots")), workflowKey).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load snapshot %q: %w", workflowKey, err)
	}
	var snap flow.CacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("postgres: decode snapshot %q: %w", workflowKey, err)
	}
	return snap, nil
}

// Close is a no-op: the pool is owned by the caller.
func (s *Store) Close() error { return nil }
