package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/auditvault/auditperf/internal/config"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota
	// StateOpen - calls are rejected without touching the dependency
	StateOpen
	// StateHalfOpen - a limited number of trial calls probe for recovery
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32

	// Timeout is how long the breaker stays open before admitting trial calls.
	Timeout time.Duration

	// MaxRequests is the number of trial calls admitted while half-open.
	MaxRequests uint32

	// OnStateChange is called with the lock held; it must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	// IsFailure decides whether err counts against the dependency. Context
	// cancellation by the caller is not a dependency failure by default.
	IsFailure func(err error) bool

	// Now overrides the clock in tests.
	Now func() time.Time
}

// FromConfig converts the file-level breaker settings.
func FromConfig(c config.CircuitBreakerConfig) Config {
	return Config{
		FailureThreshold: uint32(max(c.FailureThreshold, 0)),
		Timeout:          c.Timeout(),
		MaxRequests:      uint32(max(c.MaxRequests, 0)),
	}
}

// Counts holds the numbers of requests and their outcomes in the current state
type Counts struct {
	Requests            uint32    `json:"requests"`
	TotalFailures       uint32    `json:"total_failures"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	Rejected            uint64    `json:"rejected"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

// Breaker guards calls to a dependency that may become unavailable
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
}

// New creates a new circuit breaker
func New(name string, config Config) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultIsFailure
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Breaker{name: name, config: config}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn if the breaker allows it
func (b *Breaker) Execute(fn func() error) error {
	return b.ExecuteWithContext(context.Background(), func(context.Context) error { return fn() })
}

// ExecuteWithContext runs fn with ctx if the breaker allows it. Rejected calls
// return ErrOpenState or ErrTooManyRequests without invoking fn.
func (b *Breaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		b.counts.Rejected++
		return ErrOpenState
	case StateHalfOpen:
		if b.counts.Requests >= b.config.MaxRequests {
			b.counts.Rejected++
			return ErrTooManyRequests
		}
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	if !b.config.IsFailure(err) {
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.LastFailure = b.config.Now()

	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// currentState promotes open to half-open once the timeout has elapsed.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.config.Now().Sub(b.openedAt) >= b.config.Timeout {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state

	rejected := b.counts.Rejected
	b.counts = Counts{Rejected: rejected}
	if state == StateOpen {
		b.openedAt = b.config.Now()
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.counts = Counts{}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// IsRejection reports whether err came from the breaker rather than the dependency.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOpenState) || errors.Is(err, ErrTooManyRequests)
}

// Errors

var (
	// ErrOpenState is returned when the circuit breaker is open
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when too many requests are made in half-open state
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)
