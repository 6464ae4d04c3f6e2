package performance

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditvault/auditperf/pkg/types"
)

type scriptedExec struct {
	rows []types.Row
	err  error
	sql  string
	args []any
}

func (e *scriptedExec) Exec(context.Context, string, ...any) (int64, error) { return 0, nil }

func (e *scriptedExec) Query(_ context.Context, sql string, args ...any) ([]types.Row, error) {
	e.sql, e.args = sql, args
	return e.rows, e.err
}

func TestPostgresMonitor_SlowQueries(t *testing.T) {
	exec := &scriptedExec{rows: []types.Row{
		{"query": "SELECT * FROM audit_logs WHERE action = $1", "calls": int64(42), "mean_time_ms": 1520.5, "total_time_ms": 63861.0},
		{"query": "SELECT count(*) FROM audit_logs", "calls": int32(3), "mean_time_ms": "1100.25", "total_time_ms": []byte("3300.75")},
	}}
	m := NewPostgresMonitor(exec)

	slow, err := m.SlowQueries(context.Background(), 1000, 20)
	require.NoError(t, err)
	assert.Equal(t, []any{1000.0, 20}, exec.args)
	assert.Contains(t, exec.sql, "pg_stat_statements")
	assert.Equal(t, []SlowQuery{
		{Query: "SELECT * FROM audit_logs WHERE action = $1", Calls: 42, MeanTimeMs: 1520.5, TotalTimeMs: 63861},
		{Query: "SELECT count(*) FROM audit_logs", Calls: 3, MeanTimeMs: 1100.25, TotalTimeMs: 3300.75},
	}, slow)
}

func TestPostgresMonitor_UnusedIndexes(t *testing.T) {
	exec := &scriptedExec{rows: []types.Row{
		{"table_name": "audit_logs_2026_01", "index_name": "audit_logs_2026_01_user_id_idx", "size_bytes": int64(8192)},
	}}
	m := NewPostgresMonitor(exec)

	unused, err := m.UnusedIndexes(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []any{5}, exec.args)
	assert.Equal(t, []UnusedIndex{{Table: "audit_logs_2026_01", Index: "audit_logs_2026_01_user_id_idx", SizeBytes: 8192}}, unused)
}

func TestPostgresMonitor_Errors(t *testing.T) {
	cause := stderrors.New(`relation "pg_stat_statements" does not exist`)
	m := NewPostgresMonitor(&scriptedExec{err: cause})

	_, err := m.SlowQueries(context.Background(), 1000, 20)
	assert.ErrorIs(t, err, cause)
	_, err = m.UnusedIndexes(context.Background(), 20)
	assert.ErrorIs(t, err, cause)
}

func TestNumber(t *testing.T) {
	assert.Equal(t, 1.5, number(float32(1.5)))
	assert.Equal(t, 7.0, number(7))
	assert.Equal(t, 0.0, number(nil))
	assert.Equal(t, 0.0, number("not a number"))
}
