package performance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/auditvault/auditperf/pkg/types"
)

// QueryMonitor reports statement and index usage from the database.
type QueryMonitor interface {
	SlowQueries(ctx context.Context, thresholdMs float64, limit int) ([]SlowQuery, error)
	UnusedIndexes(ctx context.Context, limit int) ([]UnusedIndex, error)
}

const slowQueriesSQL = `SELECT query, calls, mean_exec_time AS mean_time_ms, total_exec_time AS total_time_ms
FROM pg_stat_statements
WHERE mean_exec_time > $1
ORDER BY mean_exec_time DESC
LIMIT $2`

const unusedIndexesSQL = `SELECT s.relname AS table_name, s.indexrelname AS index_name,
	pg_relation_size(s.indexrelid) AS size_bytes
FROM pg_stat_user_indexes s
JOIN pg_index i ON i.indexrelid = s.indexrelid
WHERE s.idx_scan = 0 AND NOT i.indisunique
ORDER BY size_bytes DESC
LIMIT $1`

// PostgresMonitor reads pg_stat_statements and pg_stat_user_indexes. The
// pg_stat_statements extension must be installed for SlowQueries.
type PostgresMonitor struct {
	exec types.QueryExecutor
}

var _ QueryMonitor = (*PostgresMonitor)(nil)

// NewPostgresMonitor creates a monitor running its queries through exec.
func NewPostgresMonitor(exec types.QueryExecutor) *PostgresMonitor {
	return &PostgresMonitor{exec: exec}
}

func (m *PostgresMonitor) SlowQueries(ctx context.Context, thresholdMs float64, limit int) ([]SlowQuery, error) {
	rows, err := m.exec.Query(ctx, slowQueriesSQL, thresholdMs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read pg_stat_statements: %w", err)
	}
	out := make([]SlowQuery, 0, len(rows))
	for _, row := range rows {
		out = append(out, SlowQuery{
			Query:       fmt.Sprint(row["query"]),
			Calls:       int64(number(row["calls"])),
			MeanTimeMs:  number(row["mean_time_ms"]),
			TotalTimeMs: number(row["total_time_ms"]),
		})
	}
	return out, nil
}

func (m *PostgresMonitor) UnusedIndexes(ctx context.Context, limit int) ([]UnusedIndex, error) {
	rows, err := m.exec.Query(ctx, unusedIndexesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read pg_stat_user_indexes: %w", err)
	}
	out := make([]UnusedIndex, 0, len(rows))
	for _, row := range rows {
		out = append(out, UnusedIndex{
			Table:     fmt.Sprint(row["table_name"]),
			Index:     fmt.Sprint(row["index_name"]),
			SizeBytes: int64(number(row["size_bytes"])),
		})
	}
	return out, nil
}

// number converts driver numerics to float64. Unknown types are zero.
func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(n), 64)
		return f
	}
	return 0
}
