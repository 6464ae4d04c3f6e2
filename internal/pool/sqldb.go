package pool

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/types"
)

// SQLDriver runs against database/sql. The default driver name is the
// pure-Go "sqlite" registered by modernc.org/sqlite.
type SQLDriver struct {
	db   *sql.DB
	name string
}

// NewSQLDriver opens cfg.URL with the sqlite driver. An in-memory database is
// private to one connection, so it is capped at a single open connection.
func NewSQLDriver(cfg config.PoolConfig) (*SQLDriver, error) {
	dsn := strings.TrimPrefix(cfg.URL, "sqlite://")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, driverError("sqlite", err)
	}

	maxOpen := cfg.MaxConnections
	if isMemoryDSN(dsn) {
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(max(cfg.MinConnections, 1))
	}
	if idle := cfg.IdleTimeout(); idle > 0 && !isMemoryDSN(dsn) {
		db.SetConnMaxIdleTime(idle)
	}
	return NewSQLDriverFromDB(db, "sqlite"), nil
}

// NewSQLDriverFromDB wraps an already opened database.
func NewSQLDriverFromDB(db *sql.DB, name string) *SQLDriver {
	return &SQLDriver{db: db, name: name}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.HasPrefix(dsn, "file::memory:")
}

// Name implements Driver.
func (d *SQLDriver) Name() string { return d.name }

// Acquire implements Driver.
func (d *SQLDriver) Acquire(ctx context.Context) (Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return sqlConn{conn: conn}, nil
}

// Ping implements Driver.
func (d *SQLDriver) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Stat implements Driver.
func (d *SQLDriver) Stat() DriverStat {
	s := d.db.Stats()
	return DriverStat{
		Total:    int32(s.OpenConnections),
		Idle:     int32(s.Idle),
		Acquired: int32(s.InUse),
		Max:      int32(s.MaxOpenConnections),
	}
}

// Close implements Driver.
func (d *SQLDriver) Close() { _ = d.db.Close() }

type sqlConn struct {
	conn *sql.Conn
}

func (c sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (c sqlConn) Query(ctx context.Context, query string, args ...any) ([]types.Row, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (c sqlConn) Release() { _ = c.conn.Close() }

// scanRows collects every row into a map keyed by column name.
func scanRows(rows *sql.Rows) ([]types.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []types.Row{}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(types.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
