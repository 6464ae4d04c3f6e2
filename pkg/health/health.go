// Package health tracks the health of auditperf components and derives an
// overall service state from them.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/auditvault/auditperf/pkg/errors"
)

// HealthState represents the health of a component or of the service
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates repeated failures with the component still serving
	StateDegraded

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// Component names used by the service.
const (
	ComponentDatabase   = "database"
	ComponentCache      = "cache"
	ComponentPartitions = "partitions"
	ComponentArchive    = "archive"
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastHealthCheck   time.Time   `json:"last_health_check"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorCode     string      `json:"last_error_code,omitempty"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// HealthCheckInterval is the interval for periodic probes
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       1,
		UnavailableThreshold: 3,
		HealthCheckInterval:  30 * time.Second,
	}
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// Tracker tracks the health of multiple components
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  []StateChangeCallback
	now        func() time.Time
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = 1
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 30 * time.Second
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
		now:        time.Now,
	}
}

// RegisterComponent registers a new component for health tracking
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := t.now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastHealthCheck: now,
		}
	}
}

// Observe records the outcome of one check: nil is a success.
func (t *Tracker) Observe(component string, err error) {
	if err != nil {
		t.RecordError(component, err)
		return
	}
	t.RecordSuccess(component)
}

// RecordSuccess records a successful check. One success restores a
// component to healthy.
func (t *Tracker) RecordSuccess(component string) {
	t.update(component, nil)
}

// RecordError records a failed check for a component
func (t *Tracker) RecordError(component string, err error) {
	if err == nil {
		err = fmt.Errorf("%s check failed", component)
	}
	t.update(component, err)
}

func (t *Tracker) update(component string, err error) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastHealthCheck = t.now()
	newState := StateHealthy
	if err != nil {
		health.ConsecutiveErrors++
		health.LastErrorCode = string(errors.GetErrorCode(err))
		health.LastErrorMessage = err.Error()
		switch {
		case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
			newState = StateUnavailable
		case health.ConsecutiveErrors >= t.config.ErrorThreshold:
			newState = StateDegraded
		default:
			newState = oldState
		}
	} else {
		health.ConsecutiveErrors = 0
		health.LastErrorCode = ""
		health.LastErrorMessage = ""
	}

	if newState != oldState {
		health.State = newState
		health.LastStateChange = health.LastHealthCheck
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if newState != oldState {
		for _, cb := range callbacks {
			cb(component, oldState, newState, err)
		}
	}
}

// GetState returns the current health state of a component. Unknown
// components are unavailable.
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of the health information for a component
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return ComponentHealth{}, fmt.Errorf("component %s not registered", component)
	}
	return *health, nil
}

// GetAllComponents returns health information for all registered components, by name
func (t *Tracker) GetAllComponents() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(t.components))
	for _, health := range t.components {
		result = append(result, *health)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the worst state of any component
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overallState := StateHealthy
	for _, health := range t.components {
		if health.State > overallState {
			overallState = health.State
		}
	}
	return overallState
}

// IsHealthy returns true if the component is in a healthy state
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// OnStateChange registers a callback run synchronously after a transition
func (t *Tracker) OnStateChange(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) error

// StartHealthChecks probes every component in checks on the configured
// interval until ctx is done.
func (t *Tracker) StartHealthChecks(ctx context.Context, checks map[string]CheckFunc) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunChecks(ctx, checks)
		}
	}
}

// RunChecks probes every component in checks once.
func (t *Tracker) RunChecks(ctx context.Context, checks map[string]CheckFunc) {
	for component, check := range checks {
		t.Observe(component, check(ctx))
	}
}
