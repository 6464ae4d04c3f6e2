package partition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// TableSpec describes one partitioned table.
type TableSpec struct {
	Name            string
	Interval        types.IntervalUnit
	RetentionPolicy string
	// Lookahead is the number of future periods kept ahead of the current one.
	Lookahead int
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Tables               []TableSpec
	DefaultRetentionDays int
	MaintenanceInterval  time.Duration
	// EmptyPartitionBytes is the size at or below which a partition counts as empty.
	EmptyPartitionBytes int64
}

// ManagerConfigFrom converts the partitioning section. Tables inherit the
// section's interval and lookahead when they leave them unset.
func ManagerConfigFrom(cfg config.PartitioningConfig) (ManagerConfig, error) {
	defaultUnit, err := ParseIntervalUnit(cfg.IntervalUnit)
	if err != nil {
		return ManagerConfig{}, err
	}

	out := ManagerConfig{
		DefaultRetentionDays: cfg.RetentionDays,
		MaintenanceInterval:  cfg.MaintenanceInterval(),
	}
	for _, t := range cfg.Tables {
		spec := TableSpec{
			Name:            t.Name,
			Interval:        defaultUnit,
			RetentionPolicy: t.RetentionPolicy,
			Lookahead:       cfg.Lookahead,
		}
		if t.IntervalUnit != "" {
			if spec.Interval, err = ParseIntervalUnit(t.IntervalUnit); err != nil {
				return ManagerConfig{}, err
			}
		}
		if t.Lookahead > 0 {
			spec.Lookahead = t.Lookahead
		}
		out.Tables = append(out.Tables, spec)
	}
	return out, nil
}

// BatchFunc pages through the rows of one partition.
type BatchFunc func(ctx context.Context, limit, offset int) ([]types.Row, error)

// Archiver copies a partition's rows elsewhere before it is dropped.
type Archiver interface {
	Archive(ctx context.Context, p types.PartitionMetadata, policy types.RetentionPolicy, rows BatchFunc) error
}

// Failure is one partition operation that did not complete.
type Failure struct {
	Table     string `json:"table"`
	Partition string `json:"partition"`
	Operation string `json:"operation"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

// MaintenanceResult summarizes one maintenance pass. A pass with failures
// still completes every other partition.
type MaintenanceResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Created   []string      `json:"created"`
	Dropped   []string      `json:"dropped"`
	Archived  []string      `json:"archived"`
	Failures  []Failure     `json:"failures,omitempty"`
	Stats     []TableStats  `json:"stats"`
}

func (r *MaintenanceResult) fail(table, partition, op string, err error) {
	r.Failures = append(r.Failures, Failure{
		Table: table, Partition: partition, Operation: op, Err: err, Message: err.Error(),
	})
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithPolicySource sets the retention policy source.
func WithPolicySource(source types.RetentionPolicySource) ManagerOption {
	return func(m *Manager) { m.policies = source }
}

// WithArchiver enables archive-before-drop.
func WithArchiver(archiver Archiver) ManagerOption {
	return func(m *Manager) { m.archiver = archiver }
}

// WithManagerClock replaces the wall clock.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMaintenanceHook is called after every maintenance pass.
func WithMaintenanceHook(hook func(MaintenanceResult)) ManagerOption {
	return func(m *Manager) { m.hook = hook }
}

// Manager creates partitions ahead of need and drops them once they fall out
// of retention, keeping one Index per table in step with the database.
type Manager struct {
	exec     types.QueryExecutor
	dialect  Dialect
	config   ManagerConfig
	tables   map[string]TableSpec
	indexes  map[string]*Index
	policies types.RetentionPolicySource
	archiver Archiver
	hook     func(MaintenanceResult)
	now      func() time.Time
	logger   *slog.Logger

	// maintMu serializes maintenance passes.
	maintMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a lifecycle manager. It does not touch the database.
func NewManager(exec types.QueryExecutor, dialect Dialect, cfg ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	if exec == nil || dialect == nil {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "partition manager needs an executor and a dialect").
			WithComponent("partition")
	}
	if cfg.DefaultRetentionDays <= 0 {
		return nil, errors.NewConfigError("partition", "default retention days must be greater than 0")
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 24 * time.Hour
	}
	if cfg.EmptyPartitionBytes <= 0 {
		cfg.EmptyPartitionBytes = 256 * 1024
	}

	m := &Manager{
		exec:     exec,
		dialect:  dialect,
		config:   cfg,
		tables:   make(map[string]TableSpec, len(cfg.Tables)),
		indexes:  make(map[string]*Index, len(cfg.Tables)),
		policies: StaticPolicies(nil),
		now:      time.Now,
	}
	for _, t := range cfg.Tables {
		if _, err := ParseIntervalUnit(string(t.Interval)); err != nil {
			return nil, err
		}
		if _, dup := m.tables[t.Name]; dup || t.Name == "" {
			return nil, errors.NewConfigError("partition", "invalid or duplicate table name %q", t.Name)
		}
		if t.Lookahead < 0 {
			t.Lookahead = 0
		}
		m.tables[t.Name] = t
		m.indexes[t.Name] = NewIndex()
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = utils.OrDiscard(m.logger).With("component", "partition-manager", "dialect", dialect.Name())
	return m, nil
}

// Index returns the metadata index of table.
func (m *Manager) Index(table string) (*Index, bool) {
	idx, ok := m.indexes[table]
	return idx, ok
}

// Tables returns the managed table specs in configuration order.
func (m *Manager) Tables() []TableSpec {
	out := make([]TableSpec, 0, len(m.config.Tables))
	for _, t := range m.config.Tables {
		out = append(out, m.tables[t.Name])
	}
	return out
}

// PartitionsFor returns the partitions of table intersecting [start, end).
func (m *Manager) PartitionsFor(table string, start, end time.Time) ([]types.PartitionMetadata, error) {
	idx, ok := m.indexes[table]
	if !ok {
		return nil, errors.NewError(errors.ErrCodePartitionNotFound, fmt.Sprintf("table %s is not partitioned", table)).
			WithComponent("partition")
	}
	return idx.FindPartitionsForDateRange(start, end), nil
}

// Rebuild reloads the index of table from the database catalog. Tables that
// do not follow the naming convention are ignored.
func (m *Manager) Rebuild(ctx context.Context, table string) error {
	spec, ok := m.tables[table]
	if !ok {
		return errors.NewError(errors.ErrCodePartitionNotFound, fmt.Sprintf("table %s is not partitioned", table)).
			WithComponent("partition")
	}

	query, args := m.dialect.ListPartitions(table)
	rows, err := m.exec.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to list partitions of %s: %w", table, err)
	}

	parts := make([]types.PartitionMetadata, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		unit, start, ok := ParsePartitionName(table, name)
		if !ok {
			m.logger.Debug("ignoring table outside naming convention", "table", table, "name", name)
			continue
		}
		parts = append(parts, NewMetadata(table, unit, start, spec.RetentionPolicy))
	}

	if err := m.indexes[table].Reset(parts); err != nil {
		return fmt.Errorf("inconsistent partitions for %s: %w", table, err)
	}
	m.logger.Info("partition index rebuilt", "table", table, "partitions", len(parts))
	return nil
}

// RebuildAll rebuilds every table index concurrently.
func (m *Manager) RebuildAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for name := range m.tables {
		g.Go(func() error { return m.Rebuild(ctx, name) })
	}
	return g.Wait()
}

// EnsureForward creates every missing partition between the retention
// cutoff and the end of the lookahead window.
func (m *Manager) EnsureForward(ctx context.Context, table string, result *MaintenanceResult) error {
	spec, policy, err := m.tablePolicy(ctx, table)
	if err != nil {
		return err
	}
	idx := m.indexes[table]

	now := m.now().UTC()
	from := now.AddDate(0, 0, -policy.RetentionDays)
	to := PeriodStart(spec.Interval, now)
	for i := 0; i <= spec.Lookahead; i++ {
		to = NextPeriod(spec.Interval, to)
	}

	for _, start := range PeriodsCovering(spec.Interval, from, to) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p := NewMetadata(table, spec.Interval, start, policy.Name)
		if _, exists := idx.FindPartitionByName(p.Name); exists {
			continue
		}
		if covered := idx.FindPartitionsForDateRange(p.StartDate, p.EndDate); len(covered) > 0 {
			m.logger.Debug("period already covered", "table", table, "partition", p.Name, "by", covered[0].Name)
			continue
		}

		if err := m.create(ctx, p); err != nil {
			m.logger.Warn("failed to create partition", "table", table, "partition", p.Name, "error", err)
			result.fail(table, p.Name, "create", err)
			continue
		}
		result.Created = append(result.Created, p.Name)
		m.logger.Debug("partition created", "table", table, "partition", p.Name,
			"from", periodBoundary(p.StartDate), "to", periodBoundary(p.EndDate))
	}
	return nil
}

func (m *Manager) create(ctx context.Context, p types.PartitionMetadata) error {
	stmts := append(m.dialect.CreatePartition(p), m.dialect.CreateIndexes(p)...)
	for _, stmt := range stmts {
		if _, err := m.exec.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return m.indexes[p.Table].AddPartition(p)
}

// ExpireBackward drops every partition whose range ended before the retention
// cutoff, archiving it first when the policy asks for it. A failed archive
// keeps the partition.
func (m *Manager) ExpireBackward(ctx context.Context, table string, result *MaintenanceResult) error {
	_, policy, err := m.tablePolicy(ctx, table)
	if err != nil {
		return err
	}
	idx := m.indexes[table]
	cutoff := m.now().UTC().AddDate(0, 0, -policy.RetentionDays)

	for _, p := range idx.All() {
		if !p.EndDate.Before(cutoff) {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if m.archiver != nil && policy.ArchiveAfterDays > 0 {
			if err := m.archiver.Archive(ctx, p, policy, m.batchReader(p)); err != nil {
				m.logger.Warn("archive failed, keeping partition", "table", table, "partition", p.Name, "error", err)
				result.fail(table, p.Name, "archive", err)
				continue
			}
			result.Archived = append(result.Archived, p.Name)
		}

		if err := m.drop(ctx, p); err != nil {
			m.logger.Warn("failed to drop partition", "table", table, "partition", p.Name, "error", err)
			result.fail(table, p.Name, "drop", err)
			continue
		}
		result.Dropped = append(result.Dropped, p.Name)
	}
	return nil
}

func (m *Manager) drop(ctx context.Context, p types.PartitionMetadata) error {
	for _, stmt := range m.dialect.DropPartition(p) {
		if _, err := m.exec.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	m.indexes[p.Table].RemovePartition(p.Name)
	return nil
}

func (m *Manager) batchReader(p types.PartitionMetadata) BatchFunc {
	return func(ctx context.Context, limit, offset int) ([]types.Row, error) {
		query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %s OFFSET %s",
			m.dialect.QuoteIdent(p.Name), m.dialect.QuoteIdent(ColumnID),
			m.dialect.Placeholder(1), m.dialect.Placeholder(2))
		return m.exec.Query(ctx, query, limit, offset)
	}
}

// RefreshSizes reloads the size of every partition of table.
func (m *Manager) RefreshSizes(ctx context.Context, table string, result *MaintenanceResult) {
	idx := m.indexes[table]
	for _, p := range idx.All() {
		query, args := m.dialect.PartitionSize(p)
		rows, err := m.exec.Query(ctx, query, args...)
		if err != nil {
			result.fail(table, p.Name, "size", err)
			continue
		}
		if len(rows) > 0 {
			idx.UpdateSize(p.Name, toInt64(rows[0]["size_bytes"]))
		}
	}
}

// RunMaintenance runs ensure-forward, expire-backward and a size refresh for
// every table. Individual partition failures are collected, never returned.
// Passes are serialized.
func (m *Manager) RunMaintenance(ctx context.Context) MaintenanceResult {
	m.maintMu.Lock()
	defer m.maintMu.Unlock()

	result := MaintenanceResult{StartedAt: m.now()}
	for _, spec := range m.Tables() {
		if err := m.EnsureForward(ctx, spec.Name, &result); err != nil {
			result.fail(spec.Name, "", "ensure_forward", err)
		}
		if err := m.ExpireBackward(ctx, spec.Name, &result); err != nil {
			result.fail(spec.Name, "", "expire_backward", err)
		}
		m.RefreshSizes(ctx, spec.Name, &result)
		stats, _ := m.Stats(spec.Name)
		result.Stats = append(result.Stats, stats)
	}
	result.Duration = m.now().Sub(result.StartedAt)

	level := slog.LevelInfo
	if len(result.Failures) > 0 {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "partition maintenance completed",
		"created", len(result.Created),
		"dropped", len(result.Dropped),
		"archived", len(result.Archived),
		"failures", len(result.Failures),
		"duration", result.Duration)
	for _, s := range result.Stats {
		for _, rec := range s.Recommendations {
			m.logger.Info("partition recommendation", "table", s.Table, "recommendation", rec)
		}
	}

	if m.hook != nil {
		m.hook(result)
	}
	return result
}

func (m *Manager) tablePolicy(ctx context.Context, table string) (TableSpec, types.RetentionPolicy, error) {
	spec, ok := m.tables[table]
	if !ok {
		return TableSpec{}, types.RetentionPolicy{}, errors.NewError(errors.ErrCodePartitionNotFound,
			fmt.Sprintf("table %s is not partitioned", table)).WithComponent("partition")
	}
	policies, err := m.policies.Policies(ctx)
	if err != nil {
		return spec, types.RetentionPolicy{}, fmt.Errorf("failed to load retention policies: %w", err)
	}
	return spec, resolvePolicy(policies, spec.RetentionPolicy, m.config.DefaultRetentionDays), nil
}

// Start launches the maintenance ticker. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.maintenanceLoop(ctx, m.done)
}

// Stop halts the ticker and waits for a running pass to finish.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

func (m *Manager) maintenanceLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunMaintenance(ctx)
		}
	}
}
