package orchestrator

import (
	"time"

	"github.com/velsin/swarmflow/recovery"
	"github.com/velsin/swarmflow/types"
)

// ChainStatus is the workflow run's lifecycle state.
type ChainStatus string

const (
	ChainPending   ChainStatus = "pending"
	ChainRunning   ChainStatus = "running"
	ChainSucceeded ChainStatus = "succeeded"
	ChainPartial   ChainStatus = "partial"
	ChainFailed    ChainStatus = "failed"
)

// Terminal reports whether the status can never change again.
func (s ChainStatus) Terminal() bool {
	return s == ChainSucceeded || s == ChainPartial || s == ChainFailed
}

// SubtaskStatus is one subtask's outcome.
type SubtaskStatus string

const (
	SubtaskPending   SubtaskStatus = "pending"
	SubtaskRunning   SubtaskStatus = "running"
	SubtaskSucceeded SubtaskStatus = "succeeded"
	SubtaskFailed    SubtaskStatus = "failed"
	SubtaskSkipped   SubtaskStatus = "skipped"
)

// SubtaskExecution records one subtask's run.
type SubtaskExecution struct {
	Name          string           `json:"name"`
	AgentID       string           `json:"agent_id,omitempty"`
	Status        SubtaskStatus    `json:"status"`
	Output        any              `json:"output,omitempty"`
	RetryAttempts int              `json:"retry_attempts"`
	ErrorClass    types.ErrorClass `json:"error_class,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	StartedAt     time.Time        `json:"started_at,omitempty"`
	FinishedAt    time.Time        `json:"finished_at,omitempty"`
}

// ChainExecution is one workflow run. Status moves pending -> running ->
// {succeeded, partial, failed}; terminal states are never left, a failed
// or partial run restarts only as a new execution from its checkpoint.
type ChainExecution struct {
	ID           string             `json:"id"`
	WorkflowName string             `json:"workflow_name"`
	Strategy     recovery.Strategy  `json:"strategy"`
	Status       ChainStatus        `json:"status"`
	Subtasks     []SubtaskExecution `json:"subtask_executions"`
	FinalOutput  any                `json:"final_output,omitempty"`
	SuccessCount int                `json:"success_count"`
	StartedAt    time.Time          `json:"started_at,omitempty"`
	FinishedAt   time.Time          `json:"finished_at,omitempty"`
}

// transition moves the status forward. Moving out of a terminal state or
// skipping backward is refused, keeping transitions monotonic.
func (e *ChainExecution) transition(next ChainStatus) bool {
	if e.Status == next {
		return true
	}
	if e.Status.Terminal() {
		return false
	}
	if e.Status == ChainPending && next != ChainRunning {
		return false
	}
	e.Status = next
	return true
}

// record appends a subtask record and keeps the success count consistent.
func (e *ChainExecution) record(st SubtaskExecution) {
	e.Subtasks = append(e.Subtasks, st)
	if st.Status == SubtaskSucceeded {
		e.SuccessCount++
	}
}

// completedSteps lists the names of the subtasks that succeeded, in
// execution order.
func (e *ChainExecution) completedSteps() []string {
	steps := make([]string, 0, e.SuccessCount)
	for _, st := range e.Subtasks {
		if st.Status == SubtaskSucceeded {
			steps = append(steps, st.Name)
		}
	}
	return steps
}
