package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds the pool behind the postgres message store and waits until it can hand out a
// connection. Migrations run separately ("courier migrate up" or COURIER_DB_AUTO_MIGRATE).
func NewDBPool(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := PingDB(ctx, pool, cfg.DBPingTimeout); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.pool.ready",
		"host", pcfg.ConnConfig.Host,
		"database", pcfg.ConnConfig.Database,
		"max_conns", pcfg.MaxConns,
		"min_conns", pcfg.MinConns,
		"ping_ms", time.Since(start).Milliseconds(),
	)
	return pool, nil
}

// poolConfig parses the DSN and applies the COURIER_DB_* sizing. Zero sizes keep the DSN's
// pool_max_conns / pool_min_conns (or pgx defaults).
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	if cfg.DBPingTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.DBPingTimeout
	}
	return pcfg, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}
