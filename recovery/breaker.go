package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker's position.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// ResetTimeout is how long the circuit stays open before a probe.
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
}

// DefaultBreakerConfig returns sensible breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a three-state circuit breaker guarding agent invocation.
// Consecutive failures open it; after ResetTimeout one probe call is let
// through, and SuccessThreshold probe successes close it again.
type Breaker struct {
	config BreakerConfig
	clock  Clock
	logger *zap.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewBreaker creates a closed breaker. clock and logger may be nil.
func NewBreaker(config BreakerConfig, clock Clock, logger *zap.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		config: config,
		clock:  clock,
		logger: logger.With(zap.String("component", "breaker")),
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn under the breaker's protection.
func (b *Breaker) Call(_ context.Context, fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if b.clock.Now().Sub(b.lastFailure) < b.config.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.successes = 0
		b.logger.Info("circuit breaker half-open, probing")
	}
	b.mu.Unlock()

	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.clock.Now()

	// A failed probe reopens immediately.
	if b.state == BreakerHalfOpen || b.failures >= b.config.FailureThreshold {
		if b.state != BreakerOpen {
			b.logger.Warn("circuit breaker opened", zap.Int("failures", b.failures))
		}
		b.state = BreakerOpen
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.logger.Info("circuit breaker closed")
		}
		return
	}
	b.failures = 0
}
