package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawlgate/internal/clock"
	"github.com/JakeFAU/crawlgate/internal/metrics"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres-backed registry.
type PostgresConfig struct {
	DSN      string
	Table    string
	Timeout  time.Duration
	MaxConns int32
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres looks keys up in a table shaped (api_key text primary key, active bool).
type Postgres struct {
	pool    rowQuerier
	query   string
	timeout time.Duration
	clock   clock.Clock
}

// NewPostgres connects a pool and builds the registry client.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("registry dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p, err := NewPostgresWithPool(pool, cfg.Table, cfg.Timeout, clock.New())
	if err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithPool constructs the client from an existing pool (primarily for testing).
func NewPostgresWithPool(pool rowQuerier, table string, timeout time.Duration, clk clock.Clock) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "api_keys"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Postgres{
		pool:    pool,
		query:   fmt.Sprintf("SELECT active FROM %s WHERE api_key = $1 LIMIT 1", table),
		timeout: timeout,
		clock:   clk,
	}, nil
}

// Lookup returns the key's active flag; a missing row is an invalid key.
func (p *Postgres) Lookup(ctx context.Context, key string) (Record, error) {
	start := time.Now()
	rec, err := p.lookup(ctx, key)
	metrics.ObserveRegistryLookup(outcomeOf(rec, err), time.Since(start))
	return rec, err
}

func (p *Postgres) lookup(ctx context.Context, key string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var active bool
	err := p.pool.QueryRow(ctx, p.query, key).Scan(&active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		active = false
	case err != nil:
		return Record{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Record{Key: key, Valid: active, CheckedAt: p.clock.Now()}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
