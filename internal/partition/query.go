package partition

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

var allowedOperators = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "IN": true, "LIKE": true,
}

// Filter is one column predicate. Value is always bound as a parameter; IN
// takes a slice.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

// ListQuery describes a filtered, ordered and paginated read of one
// partitioned table.
type ListQuery struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns,omitempty"`
	Filters []Filter `json:"filters,omitempty"`
	// From and To bound the time column as [From, To). Zero values are open.
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
	TimeColumn string    `json:"time_column,omitempty"`
	OrderBy    string    `json:"order_by,omitempty"`
	Descending bool      `json:"descending,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	Offset     int       `json:"offset,omitempty"`
}

// QueryBuilder renders ListQuery values as parameterized SQL. Identifiers
// are checked against a pattern and, when configured, a column allow-list.
type QueryBuilder struct {
	dialect Dialect
	columns map[string]bool
}

// DefaultColumns is the allow-list for audit tables.
var DefaultColumns = []string{
	ColumnID, ColumnTimestamp, ColumnOrganizationID, ColumnUserID,
	ColumnAction, ColumnStatus, ColumnResource, ColumnIPAddress, ColumnDetails,
}

// NewQueryBuilder creates a builder. An empty columns list disables the
// allow-list and only the identifier pattern applies.
func NewQueryBuilder(dialect Dialect, columns []string) *QueryBuilder {
	b := &QueryBuilder{dialect: dialect}
	if len(columns) > 0 {
		b.columns = make(map[string]bool, len(columns))
		for _, c := range columns {
			b.columns[c] = true
		}
	}
	return b
}

type argList struct {
	dialect Dialect
	args    []any
}

func (a *argList) bind(v any) string {
	a.args = append(a.args, v)
	return a.dialect.Placeholder(len(a.args))
}

// Build returns the SQL and its arguments. When partitions is non-empty the
// query reads those physical partitions through UNION ALL instead of the
// base table.
func (b *QueryBuilder) Build(q ListQuery, partitions []types.PartitionMetadata) (string, []any, error) {
	if err := b.checkTable(q.Table); err != nil {
		return "", nil, err
	}
	timeColumn := q.TimeColumn
	if timeColumn == "" {
		timeColumn = ColumnTimestamp
	}
	if err := b.checkColumn(timeColumn); err != nil {
		return "", nil, err
	}

	selectList := "*"
	if len(q.Columns) > 0 {
		for _, c := range q.Columns {
			if err := b.checkColumn(c); err != nil {
				return "", nil, err
			}
		}
		selectList = quoteColumns(q.Columns)
	}
	for _, f := range q.Filters {
		if err := b.checkColumn(f.Column); err != nil {
			return "", nil, err
		}
		if !allowedOperators[strings.ToUpper(f.Op)] {
			return "", nil, invalidQuery("unsupported operator %q", f.Op)
		}
	}
	if q.OrderBy != "" {
		if err := b.checkColumn(q.OrderBy); err != nil {
			return "", nil, err
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return "", nil, invalidQuery("limit and offset must not be negative")
	}

	sources := []string{q.Table}
	if len(partitions) > 0 {
		sources = sources[:0]
		for _, p := range partitions {
			if p.Table != q.Table {
				return "", nil, invalidQuery("partition %s does not belong to %s", p.Name, q.Table)
			}
			if err := b.checkTable(p.Name); err != nil {
				return "", nil, err
			}
			sources = append(sources, p.Name)
		}
	}

	if len(sources) > 1 && q.OrderBy != "" && len(q.Columns) > 0 && !slices.Contains(q.Columns, q.OrderBy) {
		return "", nil, invalidQuery("order column %q must be selected when reading several partitions", q.OrderBy)
	}

	args := &argList{dialect: b.dialect}
	branches := make([]string, 0, len(sources))
	for _, source := range sources {
		where, err := b.where(q, timeColumn, args)
		if err != nil {
			return "", nil, err
		}
		branches = append(branches, fmt.Sprintf("SELECT %s FROM %s%s", selectList, b.dialect.QuoteIdent(source), where))
	}

	var sb strings.Builder
	if len(branches) == 1 {
		sb.WriteString(branches[0])
	} else {
		sb.WriteString("SELECT * FROM (")
		sb.WriteString(strings.Join(branches, " UNION ALL "))
		sb.WriteString(") AS pruned")
	}

	if q.OrderBy != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", b.dialect.QuoteIdent(q.OrderBy), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", args.bind(q.Limit))
		if q.Offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %s", args.bind(q.Offset))
		}
	} else if q.Offset > 0 {
		return "", nil, invalidQuery("offset requires a limit")
	}
	return sb.String(), args.args, nil
}

func (b *QueryBuilder) where(q ListQuery, timeColumn string, args *argList) (string, error) {
	var preds []string
	if !q.From.IsZero() {
		preds = append(preds, fmt.Sprintf("%s >= %s", b.dialect.QuoteIdent(timeColumn), args.bind(q.From)))
	}
	if !q.To.IsZero() {
		preds = append(preds, fmt.Sprintf("%s < %s", b.dialect.QuoteIdent(timeColumn), args.bind(q.To)))
	}
	for _, f := range q.Filters {
		col := b.dialect.QuoteIdent(f.Column)
		op := strings.ToUpper(f.Op)
		if op != "IN" {
			preds = append(preds, fmt.Sprintf("%s %s %s", col, op, args.bind(f.Value)))
			continue
		}

		rv := reflect.ValueOf(f.Value)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Len() == 0 {
			return "", invalidQuery("IN on %s needs a non-empty list", f.Column)
		}
		holders := make([]string, rv.Len())
		for i := range holders {
			holders[i] = args.bind(rv.Index(i).Interface())
		}
		preds = append(preds, fmt.Sprintf("%s IN (%s)", col, strings.Join(holders, ", ")))
	}
	if len(preds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(preds, " AND "), nil
}

func (b *QueryBuilder) checkTable(name string) error {
	if !identPattern.MatchString(name) {
		return invalidQuery("invalid table name %q", name)
	}
	return nil
}

func (b *QueryBuilder) checkColumn(name string) error {
	if !identPattern.MatchString(name) {
		return invalidQuery("invalid column name %q", name)
	}
	if b.columns != nil && !b.columns[name] {
		return invalidQuery("column %q is not queryable", name)
	}
	return nil
}

func invalidQuery(format string, args ...any) error {
	return errors.NewError(errors.ErrCodeInvalidQuery, fmt.Sprintf(format, args...)).
		WithComponent("query")
}
