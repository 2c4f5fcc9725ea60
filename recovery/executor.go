package recovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/velsin/swarmflow/types"
)

// AttemptState is the retry loop's explicit state. The loop moves
// Pending -> Attempting -> {Succeeded, Retrying, Failed}; Retrying sleeps
// the backoff delay and re-enters Attempting.
type AttemptState string

const (
	StatePending    AttemptState = "pending"
	StateAttempting AttemptState = "attempting"
	StateRetrying   AttemptState = "retrying"
	StateSucceeded  AttemptState = "succeeded"
	StateFailed     AttemptState = "failed"
)

// Action is the recovery decision recorded after a step finally fails.
type Action string

const (
	// ActionAborted means the whole execution must stop.
	ActionAborted Action = "aborted"
	// ActionSkipped means the step is marked failed and the chain goes on.
	ActionSkipped Action = "skipped"
)

// ErrorContext describes a step's final failure: its classification, where
// it happened, how many attempts were made and what the recovery layer
// decided. Ephemeral: logged and recorded on the SubtaskExecution, never
// itself retried.
type ErrorContext struct {
	StepID   string           `json:"step_id"`
	StepName string           `json:"step_name"`
	Class    types.ErrorClass `json:"class"`
	Attempts int              `json:"attempts"`
	Action   Action           `json:"action"`
	Err      error            `json:"-"`
}

// StepFunc is the unit of work run under recovery.
type StepFunc func(ctx context.Context) (any, error)

// RollbackFunc undoes a step's partial side effects after final failure.
type RollbackFunc func(ctx context.Context) error

// Executor owns attempt counting, delay sleeping and final classification
// for one workflow's strategy and retry policy.
type Executor struct {
	strategy Strategy
	policy   RetryPolicy
	breaker  *Breaker
	clock    Clock
	logger   *zap.Logger

	// OnRetry, when set, observes each retry decision before the delay.
	OnRetry func(stepID string, attempt int, err error)
}

// NewExecutor builds an executor. breaker may be nil (no circuit
// protection); clock may be nil (wall clock); logger may be nil.
func NewExecutor(strategy Strategy, policy RetryPolicy, breaker *Breaker, clock Clock, logger *zap.Logger) *Executor {
	if !strategy.Valid() {
		strategy = FailFast
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		strategy: strategy,
		policy:   policy.normalize(),
		breaker:  breaker,
		clock:    clock,
		logger:   logger.With(zap.String("component", "recovery")),
	}
}

// Strategy returns the workflow strategy the executor enforces.
func (e *Executor) Strategy() Strategy { return e.strategy }

// ExecuteWithRecovery is the single entry point every subtask execution
// passes through. It returns (true, result, nil) on success; on final
// failure it returns (false, nil, ctx) where ctx carries the
// classification and the action the chain must take. rollback, when
// non-nil, runs once after final failure; a rollback error is logged and
// never masks the original failure.
func (e *Executor) ExecuteWithRecovery(ctx context.Context, stepID, stepName string, fn StepFunc, rollback RollbackFunc) (bool, any, *ErrorContext) {
	var (
		state    = StatePending
		attempts = 0
		result   any
		lastErr  error
	)

	for {
		switch state {
		case StatePending:
			state = StateAttempting

		case StateRetrying:
			if e.OnRetry != nil {
				e.OnRetry(stepID, attempts, lastErr)
			}
			delay := e.policy.Delay(attempts - 1)
			e.logger.Debug("retrying step",
				zap.String("step_id", stepID),
				zap.Int("attempt", attempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := e.clock.Sleep(ctx, delay); err != nil {
				lastErr = types.NewError(types.ErrTimeout, "retry canceled").
					WithCause(err).WithClass(types.ClassFatal)
				state = StateFailed
				continue
			}
			state = StateAttempting

		case StateAttempting:
			attempts++
			result, lastErr = e.invoke(ctx, fn)
			if lastErr == nil {
				state = StateSucceeded
				continue
			}
			if e.shouldRetry(lastErr, attempts) {
				state = StateRetrying
			} else {
				state = StateFailed
			}

		case StateSucceeded:
			if attempts > 1 {
				e.logger.Info("step recovered",
					zap.String("step_id", stepID),
					zap.Int("attempts", attempts))
			}
			return true, result, nil

		case StateFailed:
			ec := &ErrorContext{
				StepID:   stepID,
				StepName: stepName,
				Class:    types.Classify(lastErr),
				Attempts: attempts,
				Action:   e.action(lastErr),
				Err:      lastErr,
			}
			e.runRollback(ctx, stepID, rollback)
			e.logger.Warn("step failed",
				zap.String("step_id", stepID),
				zap.String("step_name", stepName),
				zap.String("class", string(ec.Class)),
				zap.Int("attempts", attempts),
				zap.String("action", string(ec.Action)),
				zap.Error(lastErr))
			return false, nil, ec
		}
	}
}

func (e *Executor) invoke(ctx context.Context, fn StepFunc) (any, error) {
	if e.breaker == nil {
		return fn(ctx)
	}
	var result any
	err := e.breaker.Call(ctx, func() error {
		var ferr error
		result, ferr = fn(ctx)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// shouldRetry applies the taxonomy: only transient failures are retried,
// only under a retrying strategy, and only while attempts remain.
func (e *Executor) shouldRetry(err error, attempts int) bool {
	if !e.strategy.Retries() {
		return false
	}
	if types.Classify(err) != types.ClassTransient {
		return false
	}
	return attempts < e.policy.MaxAttempts
}

// action decides what the chain does next. Fatal failures abort regardless
// of strategy; everything else skips or aborts per the workflow strategy.
func (e *Executor) action(err error) Action {
	if types.Classify(err) == types.ClassFatal {
		return ActionAborted
	}
	if e.strategy.SkipsOnFailure() {
		return ActionSkipped
	}
	return ActionAborted
}

func (e *Executor) runRollback(ctx context.Context, stepID string, rollback RollbackFunc) {
	if rollback == nil {
		return
	}
	if err := rollback(ctx); err != nil {
		// Rollback failure never masks the original error.
		e.logger.Error("rollback failed",
			zap.String("step_id", stepID),
			zap.Error(err))
	}
}
