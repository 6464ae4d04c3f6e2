package pool

import (
	"context"
	"fmt"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

// Conn is one checked-out connection. Release must be called exactly once.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) ([]types.Row, error)
	Release()
}

// DriverStat is a point-in-time view of the underlying pool.
type DriverStat struct {
	Total    int32
	Idle     int32
	Acquired int32
	Max      int32
}

// Driver is the relational pool a Pool wraps. Implementations provide their
// own safe concurrent checkout.
type Driver interface {
	Name() string
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	Stat() DriverStat
	Close()
}

// OpenDriver builds the driver selected by cfg.Driver. Neither driver dials
// eagerly; use Pool.Connect to verify reachability.
func OpenDriver(ctx context.Context, cfg config.PoolConfig) (Driver, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPgxDriver(ctx, cfg)
	case "sqlite":
		return NewSQLDriver(cfg)
	default:
		return nil, errors.NewConfigError("pool", "unsupported driver %q", cfg.Driver).
			WithDetail("supported", []string{"postgres", "sqlite"})
	}
}

func driverError(driver string, err error) error {
	return errors.WrapError(err, errors.ErrCodeConnectionFailed, fmt.Sprintf("failed to open %s pool", driver)).
		WithComponent("pool")
}
