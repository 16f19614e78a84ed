// Package postgres provides Postgres-backed persistence for source health and
// the seen-identifier store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/feeddigest/internal/feed"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultHealthTable = "feed_health"
	DefaultSeenTable   = "seen_items"
)

var (
	healthColumns = []string{
		"source_url",
		"last_success",
		"last_failure",
		"consecutive_failures",
		"total_attempts",
		"total_successes",
		"last_error",
	}
	seenColumns = []string{"item_id", "first_seen"}
)

// StateStoreConfig controls the Postgres connection pool used for state.
type StateStoreConfig struct {
	DSN             string
	HealthTable     string
	SeenTable       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// StateStore loads and replaces the health map and seen store as whole
// tables. Each save runs in one transaction so readers never see a half
// written state.
type StateStore struct {
	pool        pool
	healthTable string
	seenTable   string
}

// NewStateStore connects to Postgres using the provided config.
func NewStateStore(ctx context.Context, cfg StateStoreConfig) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStateStoreWithPool(p, cfg.HealthTable, cfg.SeenTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewStateStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStateStoreWithPool(p pool, healthTable, seenTable string) (*StateStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if healthTable == "" {
		healthTable = DefaultHealthTable
	}
	if seenTable == "" {
		seenTable = DefaultSeenTable
	}
	for _, table := range []string{healthTable, seenTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &StateStore{pool: p, healthTable: healthTable, seenTable: seenTable}, nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// LoadHealth reads every health row.
func (s *StateStore) LoadHealth(ctx context.Context) (feed.HealthMap, error) {
	query := fmt.Sprintf(`
SELECT
	source_url,
	last_success,
	last_failure,
	consecutive_failures,
	total_attempts,
	total_successes,
	last_error
FROM %s`, s.healthTable)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query health: %w", err)
	}
	defer rows.Close()

	out := feed.HealthMap{}
	for rows.Next() {
		var (
			url       string
			rec       feed.HealthRecord
			lastError *string
		)
		if err := rows.Scan(
			&url,
			&rec.LastSuccess,
			&rec.LastFailure,
			&rec.ConsecutiveFailures,
			&rec.TotalAttempts,
			&rec.TotalSuccesses,
			&lastError,
		); err != nil {
			return nil, fmt.Errorf("scan health row: %w", err)
		}
		if lastError != nil {
			rec.LastError = *lastError
		}
		out[url] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health rows: %w", err)
	}
	return out, nil
}

// SaveHealth replaces the health table with records.
func (s *StateStore) SaveHealth(ctx context.Context, records feed.HealthMap) error {
	urls := make([]string, 0, len(records))
	for url := range records {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	rows := make([][]any, 0, len(urls))
	for _, url := range urls {
		r := records[url]
		rows = append(rows, []any{
			url,
			r.LastSuccess,
			r.LastFailure,
			r.ConsecutiveFailures,
			r.TotalAttempts,
			r.TotalSuccesses,
			r.LastError,
		})
	}
	return s.replace(ctx, s.healthTable, healthColumns, rows)
}

// LoadSeen reads every seen identifier.
func (s *StateStore) LoadSeen(ctx context.Context) (feed.SeenStore, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT item_id, first_seen FROM %s`, s.seenTable))
	if err != nil {
		return nil, fmt.Errorf("query seen: %w", err)
	}
	defer rows.Close()

	out := feed.SeenStore{}
	for rows.Next() {
		var (
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan seen row: %w", err)
		}
		out[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen rows: %w", err)
	}
	return out, nil
}

// SaveSeen replaces the seen table with seen.
func (s *StateStore) SaveSeen(ctx context.Context, seen feed.SeenStore) error {
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []any{id, seen[id]})
	}
	return s.replace(ctx, s.seenTable, seenColumns, rows)
}

func (s *StateStore) replace(ctx context.Context, table string, columns []string, rows [][]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", table, err)
	}
	if err := copyInto(ctx, tx, table, columns, rows); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	return nil
}

type copier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
}

func copyInto(ctx context.Context, tx copier, table string, columns []string, rows [][]any) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", table, n, len(rows))
	}
	return nil
}
