/*
Package pool wraps a relational connection pool with query metrics and health
checks.

Two drivers are provided: PgxDriver over pgxpool for PostgreSQL and SQLDriver
over database/sql with the pure-Go modernc SQLite driver. The Driver owns
connection checkout; Pool only counts.

	p, err := pool.Open(ctx, cfg.Pool, pool.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Connect(ctx); err != nil { // retries per pool.retry_attempts
		return err
	}

	n, err := pool.ExecuteQuery(ctx, p, func(ctx context.Context, conn pool.Conn) (int, error) {
		rows, err := conn.Query(ctx, "SELECT id FROM audit_logs WHERE organization_id = $1", orgID)
		return len(rows), err
	})

ExecuteQuery never retries. Acquisition failures are returned as
CONNECTION_TIMEOUT or CONNECTION_FAILED; errors from the callback are returned
unchanged. HealthCheck never fails: problems are reported in the returned
HealthStatus.
*/
package pool
