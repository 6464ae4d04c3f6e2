// Package status tracks background operations (maintenance passes, report
// runs, cache invalidations) and summarizes them with component health.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/health"
)

// Operation types recorded by the service.
const (
	OpMaintenance = "maintenance"
	OpReport      = "report"
	OpInvalidate  = "cache_invalidate"
)

// OperationStatus represents the status of an operation
type OperationStatus int

const (
	// StatusInProgress indicates the operation is currently executing
	StatusInProgress OperationStatus = iota

	// StatusCompleted indicates the operation completed successfully
	StatusCompleted

	// StatusFailed indicates the operation failed
	StatusFailed

	// StatusCanceled indicates the operation was canceled
	StatusCanceled
)

// String returns the string representation of an operation status
func (s OperationStatus) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON.
func (s OperationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Operation is one tracked operation. Values returned by the Tracker are
// copies.
type Operation struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    OperationStatus `json:"status"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Duration  time.Duration   `json:"duration,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Copy returns a deep copy of the operation
func (o *Operation) Copy() *Operation {
	c := *o
	if o.EndTime != nil {
		end := *o.EndTime
		c.EndTime = &end
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]any, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// TrackerConfig configures operation tracking behavior
type TrackerConfig struct {
	MaxHistorySize int             `json:"max_history_size"`
	HealthTracker  *health.Tracker `json:"-"`
}

// DefaultTrackerConfig returns default configuration
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxHistorySize: 200,
	}
}

// Tracker tracks running operations and keeps a bounded history of finished
// ones, newest first.
type Tracker struct {
	mu            sync.RWMutex
	operations    map[string]*Operation
	cancels       map[string]context.CancelFunc
	history       []*Operation
	maxHistory    int
	healthTracker *health.Tracker
	now           func() time.Time
}

// NewTracker creates a new operation tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 200
	}
	return &Tracker{
		operations:    make(map[string]*Operation),
		cancels:       make(map[string]context.CancelFunc),
		history:       make([]*Operation, 0, config.MaxHistorySize),
		maxHistory:    config.MaxHistorySize,
		healthTracker: config.HealthTracker,
		now:           time.Now,
	}
}

// StartOperation starts tracking a new operation. The returned context is
// canceled by CancelOperation.
func (t *Tracker) StartOperation(ctx context.Context, opType string, metadata map[string]any) (*Operation, context.Context) {
	opCtx, cancel := context.WithCancel(ctx)
	op := &Operation{
		ID:        uuid.NewString(),
		Type:      opType,
		Status:    StatusInProgress,
		StartTime: t.now(),
		Metadata:  metadata,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.operations[op.ID] = op
	t.cancels[op.ID] = cancel
	return op.Copy(), opCtx
}

// CompleteOperation marks an operation successful, merging metadata.
func (t *Tracker) CompleteOperation(opID string, metadata map[string]any) error {
	return t.finish(opID, StatusCompleted, nil, metadata)
}

// FailOperation marks an operation failed.
func (t *Tracker) FailOperation(opID string, err error) error {
	return t.finish(opID, StatusFailed, err, nil)
}

// CancelOperation cancels the operation's context and marks it canceled.
func (t *Tracker) CancelOperation(opID string) error {
	return t.finish(opID, StatusCanceled, nil, nil)
}

// Finish completes or fails opID depending on err.
func (t *Tracker) Finish(opID string, err error, metadata map[string]any) error {
	if err != nil {
		return t.finish(opID, StatusFailed, err, metadata)
	}
	return t.finish(opID, StatusCompleted, nil, metadata)
}

func (t *Tracker) finish(opID string, status OperationStatus, err error, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, exists := t.operations[opID]
	if !exists {
		return notFound(opID)
	}
	if cancel := t.cancels[opID]; cancel != nil {
		cancel()
	}
	delete(t.operations, opID)
	delete(t.cancels, opID)

	end := t.now()
	op.Status = status
	op.EndTime = &end
	op.Duration = end.Sub(op.StartTime)
	if err != nil {
		op.ErrorCode = string(errors.GetErrorCode(err))
		op.Error = err.Error()
	}
	if len(metadata) > 0 {
		if op.Metadata == nil {
			op.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			op.Metadata[k] = v
		}
	}
	t.moveToHistory(op)
	return nil
}

// Track runs fn as an operation of opType and records its outcome.
func (t *Tracker) Track(ctx context.Context, opType string, metadata map[string]any, fn func(ctx context.Context) (map[string]any, error)) error {
	op, opCtx := t.StartOperation(ctx, opType, metadata)
	result, err := fn(opCtx)
	_ = t.Finish(op.ID, err, result)
	return err
}

// Record adds an operation that ran outside the tracker to the history.
func (t *Tracker) Record(opType string, started time.Time, err error, metadata map[string]any) {
	end := t.now()
	op := &Operation{
		ID:        uuid.NewString(),
		Type:      opType,
		Status:    StatusCompleted,
		StartTime: started,
		EndTime:   &end,
		Duration:  end.Sub(started),
		Metadata:  metadata,
	}
	if err != nil {
		op.Status = StatusFailed
		op.ErrorCode = string(errors.GetErrorCode(err))
		op.Error = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.moveToHistory(op)
}

// GetOperation returns a running or finished operation by ID
func (t *Tracker) GetOperation(opID string) (*Operation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if op, exists := t.operations[opID]; exists {
		return op.Copy(), nil
	}
	for _, op := range t.history {
		if op.ID == opID {
			return op.Copy(), nil
		}
	}
	return nil, notFound(opID)
}

// GetAllOperations returns all running operations
func (t *Tracker) GetAllOperations() []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ops := make([]*Operation, 0, len(t.operations))
	for _, op := range t.operations {
		ops = append(ops, op.Copy())
	}
	return ops
}

// GetHistory returns up to limit finished operations, newest first. A limit
// <= 0 returns the whole history.
func (t *Tracker) GetHistory(limit int) []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	result := make([]*Operation, limit)
	for i := range result {
		result[i] = t.history[i].Copy()
	}
	return result
}

// SystemStatus represents the overall system status
type SystemStatus struct {
	Timestamp        time.Time                `json:"timestamp"`
	ActiveOps        int                      `json:"active_operations"`
	OperationsByType map[string]int           `json:"operations_by_type"`
	RecentFailures   int                      `json:"recent_failures"`
	HealthState      health.HealthState       `json:"health_state"`
	ComponentHealth  []health.ComponentHealth `json:"component_health,omitempty"`
}

// GetSystemStatus returns overall system status including health
func (t *Tracker) GetSystemStatus() *SystemStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := &SystemStatus{
		Timestamp:        t.now(),
		ActiveOps:        len(t.operations),
		OperationsByType: make(map[string]int),
	}
	for _, op := range t.operations {
		status.OperationsByType[op.Type]++
	}
	for _, op := range t.history {
		if op.Status == StatusFailed {
			status.RecentFailures++
		}
	}

	if t.healthTracker != nil {
		status.HealthState = t.healthTracker.GetOverallHealth()
		status.ComponentHealth = t.healthTracker.GetAllComponents()
	}
	return status
}

// moveToHistory must be called with the lock held.
func (t *Tracker) moveToHistory(op *Operation) {
	t.history = append([]*Operation{op}, t.history...)
	if len(t.history) > t.maxHistory {
		t.history = t.history[:t.maxHistory]
	}
}

func notFound(opID string) error {
	return errors.NewError(errors.ErrCodeOperationNotFound, "operation not found").
		WithDetail("operation_id", opID)
}
