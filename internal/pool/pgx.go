package pool

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/types"
)

// PgxDriver runs against PostgreSQL through pgxpool.
type PgxDriver struct {
	pool *pgxpool.Pool
}

// NewPgxDriver parses cfg.URL and applies the pool bounds from cfg.
func NewPgxDriver(ctx context.Context, cfg config.PoolConfig) (*PgxDriver, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, driverError("postgres", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = int32(cfg.MinConnections)
	}
	if idle := cfg.IdleTimeout(); idle > 0 {
		poolCfg.MaxConnIdleTime = idle
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, driverError("postgres", err)
	}
	return &PgxDriver{pool: pool}, nil
}

// Name implements Driver.
func (d *PgxDriver) Name() string { return "postgres" }

// Acquire implements Driver.
func (d *PgxDriver) Acquire(ctx context.Context) (Conn, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pgxConn{conn: conn}, nil
}

// Ping implements Driver.
func (d *PgxDriver) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

// Stat implements Driver.
func (d *PgxDriver) Stat() DriverStat {
	s := d.pool.Stat()
	return DriverStat{
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		Acquired: s.AcquiredConns(),
		Max:      s.MaxConns(),
	}
}

// Close implements Driver.
func (d *PgxDriver) Close() { d.pool.Close() }

type pgxConn struct {
	conn *pgxpool.Conn
}

func (c pgxConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c pgxConn) Query(ctx context.Context, sql string, args ...any) ([]types.Row, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (c pgxConn) Release() { c.conn.Release() }
