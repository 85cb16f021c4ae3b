package llm

import (
	"sync"
	"time"

	"github.com/rendis/diagrammer/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker around a backend.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is let through.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe calls allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker tracks consecutive failures of one backend. Only availability
// failures count; a backend that answers with bad JSON is healthy.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            CircuitState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
	config           BreakerConfig
	now              func() time.Time
	onChange         func(from, to CircuitState)
}

// NewBreaker creates a closed breaker. onChange, when set, is called on every
// state transition outside the lock.
func NewBreaker(name string, config BreakerConfig, onChange func(from, to CircuitState)) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &Breaker{name: name, config: config, now: time.Now, onChange: onChange}
}

// Allow reports whether a call may proceed. It returns a CIRCUIT_OPEN error
// while the circuit is open or the half-open probe budget is spent.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	var err error

	switch b.state {
	case CircuitOpen:
		if elapsed := b.now().Sub(b.lastFailure); elapsed >= b.config.Cooldown {
			b.state = CircuitHalfOpen
			b.halfOpenAttempts = 1 // this call is the first probe
		} else {
			err = schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker open for %q after %d consecutive failures", b.name, b.failures).
				WithDetails(map[string]any{
					"backend":              b.name,
					"consecutive_failures": b.failures,
					"cooldown_remaining":   (b.config.Cooldown - elapsed).String(),
				})
		}
	case CircuitHalfOpen:
		if b.halfOpenAttempts >= b.config.HalfOpenMax {
			err = schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for %q: probe in flight", b.name)
		} else {
			b.halfOpenAttempts++
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.halfOpenAttempts = 0
	b.state = CircuitClosed
	b.mu.Unlock()

	b.notify(from, CircuitClosed)
}

// Release returns a call granted by Allow that ended without a verdict on
// the backend, such as a cancelled request. A half-open probe slot is freed.
func (b *Breaker) Release() {
	b.mu.Lock()
	if b.state == CircuitHalfOpen && b.halfOpenAttempts > 0 {
		b.halfOpenAttempts--
	}
	b.mu.Unlock()
}

// RecordFailure counts a failure and returns the resulting state.
func (b *Breaker) RecordFailure() CircuitState {
	b.mu.Lock()
	from := b.state
	b.failures++
	b.lastFailure = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.config.FailureThreshold {
		b.state = CircuitOpen
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return to
}

// State returns the current state, applying the open -> half-open timeout.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.lastFailure) >= b.config.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) notify(from, to CircuitState) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
