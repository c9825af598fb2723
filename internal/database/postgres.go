package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/config"
)

// NewPostgresPool opens the shared pool and pings it once. Pooled
// connections carry application_name and, when configured, a
// statement_timeout so a stuck ledger query cannot hold an account lock
// indefinitely.
func NewPostgresPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	if cfg.MinConns > 0 && cfg.MinConns <= cfg.MaxConns {
		poolCfg.MinConns = cfg.MinConns
	}
	params := poolCfg.ConnConfig.RuntimeParams
	params["application_name"] = "learnhub"
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	slog.Info("postgres pool ready",
		"host", cfg.Host,
		"db", cfg.Name,
		"max_conns", poolCfg.MaxConns,
		"statement_timeout", cfg.StatementTimeout,
	)
	return pool, nil
}

// Ping adapts a pool to the readiness probe.
func Ping(pool *pgxpool.Pool) func(context.Context) error {
	return pool.Ping
}
