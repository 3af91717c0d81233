package index

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/cuemby/vault/pkg/log"
)

// Index is the relational cache. It wraps a *sqlx.DB rather than a
// bare pgxpool.Pool so the same handle that serves production traffic
// can be swapped for a sqlmock-backed *sql.DB in tests.
type Index struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// Open parses connString, forces pgx.QueryExecModeDescribeExec (the
// pool's default QueryExecModeCacheStatement caches prepared
// statements by SQL text; a schema migration that changes a table
// between two calls using the same text then returns stale column
// descriptions against the new shape), and returns a ready Index.
//
// DescribeExec re-describes every statement against the server on
// each execution. That costs a round trip per query, but Migrate runs
// infrequently enough, and dedup/claim queries are simple enough,
// that correctness across a live migration matters more than shaving
// the extra round trip.
func Open(ctx context.Context, connString string) (*Index, error) {
	db, err := OpenDB(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &Index{db: db, logger: log.WithComponent("index")}, nil
}

// OpenDB does the connection-pool setup Open wraps, exposed on its own
// so a caller (cmd/vault's composition root) can hand the resulting
// handle to app.Config.DB instead of constructing its own *Index that
// app.New would then have to duplicate.
func OpenDB(ctx context.Context, connString string) (*sqlx.DB, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("index: parse connection string: %w", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec

	sqlDB := stdlib.OpenDB(*cfg)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}

	return sqlx.NewDb(sqlDB, "pgx"), nil
}

// New wraps an already-open handle (tests pass a sqlmock *sqlx.DB,
// or any other database/sql driver consumers are willing to assert
// Postgres-compatible SQL against).
func New(db *sqlx.DB) *Index {
	return &Index{db: db, logger: log.WithComponent("index")}
}

// Migrate applies schema. It is safe to call on every startup.
func (x *Index) Migrate(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("index: migrate: %w", err)
	}
	return nil
}

func (x *Index) Close() error {
	return x.db.Close()
}
