// Package recovery classifies failures and applies retry, circuit-breaker
// and checkpoint policy around subtask execution. Every subtask in a chain
// passes through ExecuteWithRecovery, which owns attempt counting, delay
// sleeping and final classification.
package recovery

import (
	"math"
	"math/rand"
	"time"
)

// Strategy selects how a workflow reacts to subtask failure. It is chosen
// per workflow, not per error.
type Strategy string

const (
	// FailFast aborts the whole execution on the first error.
	FailFast Strategy = "FAIL_FAST"
	// ContinueOnError skips the failed step and continues the chain with
	// its outputs treated as absent.
	ContinueOnError Strategy = "CONTINUE_ON_ERROR"
	// RetryThenFail retries up to the policy limit, then aborts.
	RetryThenFail Strategy = "RETRY_THEN_FAIL"
	// RetryThenSkip retries up to the policy limit, then marks the step
	// failed and continues.
	RetryThenSkip Strategy = "RETRY_THEN_SKIP"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case FailFast, ContinueOnError, RetryThenFail, RetryThenSkip:
		return true
	}
	return false
}

// Retries reports whether the strategy retries transient failures.
func (s Strategy) Retries() bool {
	return s == RetryThenFail || s == RetryThenSkip
}

// SkipsOnFailure reports whether the chain continues past an exhausted step.
func (s Strategy) SkipsOnFailure() bool {
	return s == ContinueOnError || s == RetryThenSkip
}

// PolicyKind selects the delay progression between attempts.
type PolicyKind string

const (
	PolicyFixed       PolicyKind = "fixed"
	PolicyExponential PolicyKind = "exponential"
)

// RetryPolicy configures the retry loop.
type RetryPolicy struct {
	Kind         PolicyKind    `json:"policy" yaml:"policy"`
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Jitter       bool          `json:"jitter" yaml:"jitter"`
}

// DefaultRetryPolicy returns the default policy: three attempts with
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Kind:         PolicyExponential,
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// normalize fills zero fields with defaults.
func (p RetryPolicy) normalize() RetryPolicy {
	if p.Kind == "" {
		p.Kind = PolicyExponential
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Delay computes the pause before retry number attempt (zero-based: the
// delay taken after the attempt-th failure). Exponential backoff is
// min(max_delay, initial_delay * 2^attempt), jittered by up to ±50% to
// avoid synchronized retry storms.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := float64(p.InitialDelay)
	if p.Kind == PolicyExponential {
		base = float64(p.InitialDelay) * math.Pow(2, float64(attempt))
	}
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	if p.Jitter {
		base += base * 0.5 * (rand.Float64()*2 - 1)
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}
