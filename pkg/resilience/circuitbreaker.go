package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"comic-studio/backend/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker is short-circuiting calls
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	// StateClosed means the circuit is closed and requests are allowed to pass through
	StateClosed CircuitBreakerState = "closed"
	// StateOpen means the circuit is open and requests are being short-circuited
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen means the circuit is allowing a limited number of test requests
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
	// OnStateChange, if set, is called after every transition (outside the lock)
	OnStateChange func(name string, from, to CircuitBreakerState)
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// Metrics is a point-in-time view of the breaker counters
type Metrics struct {
	Name              string              `json:"name"`
	State             CircuitBreakerState `json:"state"`
	TotalRequests     uint64              `json:"total_requests"`
	TotalFailures     uint64              `json:"total_failures"`
	TotalSuccesses    uint64              `json:"total_successes"`
	ConsecutiveErrors uint64              `json:"consecutive_errors"`
	OpenCircuitCount  uint64              `json:"open_circuit_count"`
	LastFailureTime   time.Time           `json:"last_failure_time"`
}

// CircuitBreaker implements the Circuit Breaker pattern
type CircuitBreaker struct {
	config CircuitBreakerConfig
	log    *logger.Logger
	now    func() time.Time

	mutex           sync.Mutex
	state           CircuitBreakerState
	failureCount    uint
	successCount    uint
	inFlightProbes  uint
	nextAttemptTime time.Time
	metrics         Metrics
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config:  config,
		log:     log,
		now:     time.Now,
		state:   StateClosed,
		metrics: Metrics{Name: config.Name},
	}
}

// Execute runs fn through the circuit breaker. Caller cancellation is not
// counted as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	start := cb.now()
	err := fn(ctx)
	cb.Record(err)

	if err != nil && !isCallerCancellation(ctx, err) {
		cb.log.Warn("circuit breaker recorded failure",
			"name", cb.config.Name,
			"error", err.Error(),
			"duration", cb.now().Sub(start).String(),
		)
	}
	return err
}

// Allow reserves a slot for one call or returns ErrCircuitOpen. Every
// successful Allow must be followed by exactly one Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mutex.Lock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			cb.mutex.Unlock()
			cb.log.Debug("circuit breaker preventing request", "name", cb.config.Name)
			return ErrCircuitOpen
		}
		from := cb.transition(StateHalfOpen)
		cb.inFlightProbes++
		cb.metrics.TotalRequests++
		cb.mutex.Unlock()
		cb.notify(from, StateHalfOpen)
		return nil

	case StateHalfOpen:
		if cb.inFlightProbes+cb.successCount >= cb.config.SuccessThreshold {
			cb.mutex.Unlock()
			return ErrCircuitOpen
		}
		cb.inFlightProbes++
	}

	cb.metrics.TotalRequests++
	cb.mutex.Unlock()
	return nil
}

// Record reports the outcome of a call admitted by Allow
func (cb *CircuitBreaker) Record(err error) {
	cb.mutex.Lock()

	if cb.state == StateHalfOpen && cb.inFlightProbes > 0 {
		cb.inFlightProbes--
	}

	from, to := cb.state, cb.state
	if err == nil || errors.Is(err, context.Canceled) {
		cb.metrics.TotalSuccesses++
		cb.metrics.ConsecutiveErrors = 0
		switch cb.state {
		case StateClosed:
			cb.failureCount = 0
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.config.SuccessThreshold {
				from = cb.transition(StateClosed)
				to = StateClosed
			}
		}
	} else {
		cb.metrics.TotalFailures++
		cb.metrics.ConsecutiveErrors++
		cb.metrics.LastFailureTime = cb.now()
		switch cb.state {
		case StateClosed:
			cb.failureCount++
			if cb.failureCount >= cb.config.FailureThreshold {
				from = cb.transition(StateOpen)
				to = StateOpen
			}
		case StateHalfOpen:
			from = cb.transition(StateOpen)
			to = StateOpen
		}
	}
	cb.mutex.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

// transition must be called with the mutex held; it returns the previous state
func (cb *CircuitBreaker) transition(to CircuitBreakerState) CircuitBreakerState {
	from := cb.state
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	if to == StateOpen {
		cb.metrics.OpenCircuitCount++
		cb.nextAttemptTime = cb.now().Add(cb.config.RetryTimeout)
	}
	if to != StateHalfOpen {
		cb.inFlightProbes = 0
	}
	return from
}

func (cb *CircuitBreaker) notify(from, to CircuitBreakerState) {
	cb.log.Info("circuit breaker state changed", "name", cb.config.Name, "from", string(from), "to", string(to))
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.state
}

// GetMetrics returns the current metrics of the circuit breaker
func (cb *CircuitBreaker) GetMetrics() Metrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	m := cb.metrics
	m.State = cb.state
	return m
}

func isCallerCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
