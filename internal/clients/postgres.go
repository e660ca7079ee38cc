package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker"

	"torvix/backend/internal/orchestrator"
	"torvix/backend/internal/store"
)

// dbPinger is the subset of *pgxpool.Pool used for probing.
type dbPinger interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresClient runs schema migrations and health probes against the
// service database.
type PostgresClient struct {
	db      dbPinger
	cb      *gobreaker.CircuitBreaker
	migrate func(ctx context.Context) error
}

// NewPostgresClient creates a PostgresClient probing through db, the shared
// pool, and migrating databaseURL with the embedded migrations.
func NewPostgresClient(db dbPinger, databaseURL string, cb *gobreaker.CircuitBreaker) *PostgresClient {
	return &PostgresClient{
		db: db,
		cb: cb,
		migrate: func(context.Context) error {
			return store.MigrateUp(databaseURL)
		},
	}
}

// Name identifies the dependency in bootstrap and health results.
func (c *PostgresClient) Name() string { return "postgres" }

// Enabled is always true: the service cannot run without its database.
func (c *PostgresClient) Enabled() bool { return true }

// Provision applies pending migrations.
func (c *PostgresClient) Provision(ctx context.Context) error {
	if err := c.migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// Probe pings Postgres and checks that migrations have been applied and are
// not left dirty by a failed run. Persistent failures trip the breaker.
func (c *PostgresClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		if err := c.db.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}

		var version int64
		var dirty bool
		row := c.db.QueryRow(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1")
		if err := row.Scan(&version, &dirty); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, errors.New("schema_migrations is empty: run migrations")
			}
			return nil, fmt.Errorf("schema_migrations: %w", err)
		}
		if dirty {
			return nil, fmt.Errorf("schema_migrations: version %d is dirty", version)
		}
		return nil, nil
	})

	return toProbeResult(c.Name(), start, err)
}
