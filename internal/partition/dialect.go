package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

// Columns of a partitioned audit table referenced by indexes and queries.
const (
	ColumnID             = "id"
	ColumnTimestamp      = "timestamp"
	ColumnOrganizationID = "organization_id"
	ColumnUserID         = "user_id"
	ColumnAction         = "action"
	ColumnStatus         = "status"
	ColumnDetails        = "details"
	ColumnResource       = "resource_type"
	ColumnIPAddress      = "ip_address"
)

// IndexSpec describes one index created on every partition.
type IndexSpec struct {
	Suffix  string
	Columns []string
	Unique  bool
	// Document marks the free-form detail index (GIN on PostgreSQL).
	Document bool
}

// StandardIndexes is created on every new partition.
var StandardIndexes = []IndexSpec{
	{Suffix: "id", Columns: []string{ColumnID}, Unique: true},
	{Suffix: "ts", Columns: []string{ColumnTimestamp}},
	{Suffix: "org", Columns: []string{ColumnOrganizationID}},
	{Suffix: "user", Columns: []string{ColumnUserID}},
	{Suffix: "action", Columns: []string{ColumnAction}},
	{Suffix: "status", Columns: []string{ColumnStatus}},
	{Suffix: "org_ts", Columns: []string{ColumnOrganizationID, ColumnTimestamp}},
	{Suffix: "user_ts", Columns: []string{ColumnUserID, ColumnTimestamp}},
	{Suffix: "action_status_ts", Columns: []string{ColumnAction, ColumnStatus, ColumnTimestamp}},
	{Suffix: "details", Columns: []string{ColumnDetails}, Document: true},
}

// Dialect renders the SQL the lifecycle manager and query builder need.
type Dialect interface {
	Name() string
	CreatePartition(p types.PartitionMetadata) []string
	CreateIndexes(p types.PartitionMetadata) []string
	DropPartition(p types.PartitionMetadata) []string
	// ListPartitions returns a query yielding a "name" column with every
	// physical partition of table.
	ListPartitions(table string) (string, []any)
	// PartitionSize returns a query yielding a "size_bytes" column.
	PartitionSize(p types.PartitionMetadata) (string, []any)
	Placeholder(n int) string
	QuoteIdent(name string) string
}

// DialectFor returns the dialect of a pool driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "":
		return PostgresDialect{}, nil
	case "sqlite":
		return SQLiteDialect{}, nil
	}
	return nil, errors.NewConfigError("partition", "no dialect for driver %q", driver)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func indexName(p types.PartitionMetadata, spec IndexSpec) string {
	return p.Name + "_" + spec.Suffix + "_idx"
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// PostgresDialect uses declarative range partitioning.
type PostgresDialect struct{}

const pgTimestampLayout = "2006-01-02 15:04:05-07"

func (PostgresDialect) Name() string { return "postgres" }

// CreatePartition attaches a new range partition. The bounds are generated
// period boundaries, never caller input.
func (d PostgresDialect) CreatePartition(p types.PartitionMetadata) []string {
	return []string{fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
		d.QuoteIdent(p.Name), d.QuoteIdent(p.Table),
		p.StartDate.UTC().Format(pgTimestampLayout), p.EndDate.UTC().Format(pgTimestampLayout),
	)}
}

func (d PostgresDialect) CreateIndexes(p types.PartitionMetadata) []string {
	stmts := make([]string, 0, len(StandardIndexes))
	for _, spec := range StandardIndexes {
		unique, using := "", ""
		if spec.Unique {
			unique = "UNIQUE "
		}
		if spec.Document {
			using = "USING GIN "
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s %s(%s)",
			unique, d.QuoteIdent(indexName(p, spec)), d.QuoteIdent(p.Name), using, quoteColumns(spec.Columns)))
	}
	return stmts
}

func (d PostgresDialect) DropPartition(p types.PartitionMetadata) []string {
	return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s", d.QuoteIdent(p.Name))}
}

func (PostgresDialect) ListPartitions(table string) (string, []any) {
	return `SELECT c.relname AS name
FROM pg_inherits i
JOIN pg_class c ON c.oid = i.inhrelid
JOIN pg_class parent ON parent.oid = i.inhparent
WHERE parent.relname = $1
ORDER BY c.relname`, []any{table}
}

func (d PostgresDialect) PartitionSize(p types.PartitionMetadata) (string, []any) {
	return "SELECT COALESCE(pg_total_relation_size(to_regclass($1)), 0) AS size_bytes", []any{d.QuoteIdent(p.Name)}
}

func (PostgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (PostgresDialect) QuoteIdent(name string) string { return quoteIdent(name) }

// SQLiteDialect emulates range partitions with one table per period.
type SQLiteDialect struct{}

// sqliteRowBytes is the per-row estimate behind SQLite partition sizes.
const sqliteRowBytes = 256

func (SQLiteDialect) Name() string { return "sqlite" }

func (d SQLiteDialect) CreatePartition(p types.PartitionMetadata) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL,
	%s TIMESTAMP NOT NULL,
	%s TEXT,
	%s TEXT,
	%s TEXT,
	%s TEXT,
	%s TEXT,
	%s TEXT,
	%s TEXT
)`, d.QuoteIdent(p.Name),
		quoteIdent(ColumnID), quoteIdent(ColumnTimestamp), quoteIdent(ColumnOrganizationID),
		quoteIdent(ColumnUserID), quoteIdent(ColumnAction), quoteIdent(ColumnStatus),
		quoteIdent(ColumnResource), quoteIdent(ColumnIPAddress), quoteIdent(ColumnDetails))}
}

func (d SQLiteDialect) CreateIndexes(p types.PartitionMetadata) []string {
	stmts := make([]string, 0, len(StandardIndexes))
	for _, spec := range StandardIndexes {
		unique := ""
		if spec.Unique {
			unique = "UNIQUE "
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, d.QuoteIdent(indexName(p, spec)), d.QuoteIdent(p.Name), quoteColumns(spec.Columns)))
	}
	return stmts
}

func (d SQLiteDialect) DropPartition(p types.PartitionMetadata) []string {
	return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s", d.QuoteIdent(p.Name))}
}

func (SQLiteDialect) ListPartitions(table string) (string, []any) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(table)
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\' ORDER BY name`,
		[]any{escaped + `\_%`}
}

func (d SQLiteDialect) PartitionSize(p types.PartitionMetadata) (string, []any) {
	return fmt.Sprintf("SELECT COUNT(*) * %d AS size_bytes FROM %s", sqliteRowBytes, d.QuoteIdent(p.Name)), nil
}

func (SQLiteDialect) Placeholder(int) string { return "?" }

func (SQLiteDialect) QuoteIdent(name string) string { return quoteIdent(name) }

// toInt64 normalizes the numeric types drivers return for aggregates.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		var out int64
		_, _ = fmt.Sscan(string(n), &out)
		return out
	case string:
		var out int64
		_, _ = fmt.Sscan(n, &out)
		return out
	}
	return 0
}

// periodBoundary formats a partition bound for logs.
func periodBoundary(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
