package toolchain

import (
	"context"
	"log"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, calls allowed
	CircuitOpen                         // Failures exceeded threshold, calls blocked
	CircuitHalfOpen                     // Probing whether the tool recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker
type BreakerConfig struct {
	FailureThreshold int           // Infrastructure failures that open the circuit (default: 5)
	SuccessThreshold int           // Successes in half-open needed to close (default: 1)
	Timeout          time.Duration // Time to wait before half-open (default: 30s)
	FailureWindow    time.Duration // Window to count failures (default: 1 minute)
	EnableLog        bool          // Whether to log state changes
}

// DefaultBreakerConfig returns the default circuit breaker configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		FailureWindow:    time.Minute,
		EnableLog:        true,
	}
}

// Transformer is the shape of every preprocessor backend.
type Transformer interface {
	Transform(ctx context.Context, source string) (string, error)
}

// Breaker guards a Transformer. Only infrastructure failures (missing
// binary, timeout, module load errors) count; a tool rejecting user source
// is a normal result.
type Breaker struct {
	tool   string
	next   Transformer
	config BreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        []time.Time
	successes       int
	lastStateChange time.Time
}

// NewBreaker wraps next with a circuit breaker
func NewBreaker(tool string, next Transformer, config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = def.FailureWindow
	}
	return &Breaker{
		tool:            tool,
		next:            next,
		config:          config,
		now:             time.Now,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Transform runs the wrapped transformer through the circuit breaker
func (b *Breaker) Transform(ctx context.Context, source string) (string, error) {
	if !b.canExecute() {
		return "", &CircuitOpenError{Tool: b.tool}
	}

	out, err := b.next.Transform(ctx, source)
	b.recordResult(err)
	return out, err
}

// Unwrap returns the guarded transformer
func (b *Breaker) Unwrap() Transformer {
	return b.next
}

func (b *Breaker) canExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastStateChange) >= b.config.Timeout {
			b.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if IsInfrastructure(err) {
		b.recordFailure(b.now())
		return
	}
	b.recordSuccess()
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(CircuitClosed)
		}
	case CircuitClosed:
		b.failures = b.failures[:0]
	}
}

func (b *Breaker) recordFailure(now time.Time) {
	b.failures = append(b.failures, now)

	cutoff := now.Add(-b.config.FailureWindow)
	recent := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	b.failures = recent

	switch b.state {
	case CircuitClosed:
		if len(b.failures) >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open goes back to open
		b.transitionTo(CircuitOpen)
	}
}

func (b *Breaker) transitionTo(newState CircuitState) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState
	b.lastStateChange = b.now()
	b.successes = 0
	if newState == CircuitClosed {
		b.failures = b.failures[:0]
	}

	if b.config.EnableLog {
		log.Printf("[Toolchain/%s] Circuit %s -> %s", b.tool, oldState, newState)
	}
}

// State returns the current circuit state
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the circuit breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = b.failures[:0]
	b.successes = 0
	b.lastStateChange = b.now()
}
