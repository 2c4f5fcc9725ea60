package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velsin/swarmflow/agent"
	"github.com/velsin/swarmflow/orchestrator"
	"github.com/velsin/swarmflow/recovery"
	"github.com/velsin/swarmflow/store"
	"github.com/velsin/swarmflow/testutil"
	"github.com/velsin/swarmflow/types"
)

// instantClock skips retry delays so tests never sleep.
type instantClock struct{ now time.Time }

func (c *instantClock) Now() time.Time { return c.now }

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func twoStepWorkflow(strategy recovery.Strategy) *orchestrator.WorkflowDefinition {
	return &orchestrator.WorkflowDefinition{
		Name:     "two-step",
		Recovery: orchestrator.RecoverySpec{Strategy: strategy, Retry: recovery.RetryPolicy{Kind: recovery.PolicyFixed, MaxAttempts: 3, InitialDelay: time.Millisecond}},
		Subtasks: []orchestrator.SubtaskSpec{
			{
				Name:           "subtask1",
				Agent:          "one",
				Inputs:         []orchestrator.InputSpec{{Name: "x", Type: "number", Required: true}},
				OutputSchema:   map[string]any{"y": 0},
				PromptTemplate: "Start with {{x}}.",
			},
			{
				Name:           "subtask2",
				Agent:          "two",
				DependsOn:      []string{"subtask1"},
				Inputs:         []orchestrator.InputSpec{{Name: "y", Type: "number", Required: true}},
				OutputSchema:   map[string]any{"z": 0},
				PromptTemplate: "Double {{y}}.",
			},
		},
	}
}

func newOrchestrator(agents map[string]agent.Agent, extra func(*orchestrator.Options)) *orchestrator.Orchestrator {
	opts := orchestrator.Options{
		Agents: agents,
		Clock:  &instantClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	if extra != nil {
		extra(&opts)
	}
	return orchestrator.New(opts)
}

func TestExecute_TwoStepChain(t *testing.T) {
	t.Parallel()
	one := testutil.NewScriptedAgent("one", testutil.JSONResponse("one", map[string]any{"y": 2}))
	two := testutil.NewScriptedAgent("two", testutil.JSONResponse("two", map[string]any{"z": 4}))
	o := newOrchestrator(map[string]agent.Agent{"one": one, "two": two}, nil)

	exec, err := o.Execute(context.Background(), twoStepWorkflow(recovery.RetryThenFail), map[string]any{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ChainSucceeded, exec.Status)
	assert.Equal(t, 2, exec.SuccessCount)
	assert.Equal(t, map[string]any{"z": float64(4)}, exec.FinalOutput)

	// subtask2 received subtask1's output variable in its prompt.
	require.Len(t, two.Prompts, 1)
	assert.Equal(t, "Double 2.", two.Prompts[0].Text)
}

func TestExecute_RetryThenSkipMarksPartial(t *testing.T) {
	t.Parallel()
	one := testutil.NewScriptedAgent("one", testutil.JSONResponse("one", map[string]any{"y": 2}))
	down := &testutil.FailingAgent{AgentID: "two", Err: types.NewError(types.ErrUpstreamError, "backend down")}
	o := newOrchestrator(map[string]agent.Agent{"one": one, "two": down}, nil)

	exec, err := o.Execute(context.Background(), twoStepWorkflow(recovery.RetryThenSkip), map[string]any{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ChainPartial, exec.Status)
	assert.Equal(t, 1, exec.SuccessCount)
	require.Len(t, exec.Subtasks, 2)

	failed := exec.Subtasks[1]
	assert.Equal(t, orchestrator.SubtaskSkipped, failed.Status)
	assert.Equal(t, 3, failed.RetryAttempts)
	assert.Equal(t, types.ClassTransient, failed.ErrorClass)
}

func TestExecute_FailFastAborts(t *testing.T) {
	t.Parallel()
	down := &testutil.FailingAgent{AgentID: "one", Err: types.NewError(types.ErrUpstreamError, "down")}
	two := testutil.NewScriptedAgent("two")
	o := newOrchestrator(map[string]agent.Agent{"one": down, "two": two}, nil)

	exec, err := o.Execute(context.Background(), twoStepWorkflow(recovery.FailFast), map[string]any{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ChainFailed, exec.Status)
	require.Len(t, exec.Subtasks, 1)
	assert.Equal(t, orchestrator.SubtaskFailed, exec.Subtasks[0].Status)
	assert.Equal(t, 0, two.Calls())
}

func TestExecute_SchemaMismatchNotRetried(t *testing.T) {
	t.Parallel()
	// Output lacks the declared "y" field.
	one := testutil.NewScriptedAgent("one", testutil.JSONResponse("one", map[string]any{"wrong": 1}))
	o := newOrchestrator(map[string]agent.Agent{"one": one}, nil)

	wf := twoStepWorkflow(recovery.RetryThenFail)
	wf.Subtasks = wf.Subtasks[:1]
	exec, err := o.Execute(context.Background(), wf, map[string]any{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ChainFailed, exec.Status)
	assert.Equal(t, 1, one.Calls())
	assert.Equal(t, types.ClassValidation, exec.Subtasks[0].ErrorClass)
}

func TestExecute_MissingRequiredInputIsDependencyError(t *testing.T) {
	t.Parallel()
	one := testutil.NewScriptedAgent("one", testutil.JSONResponse("one", map[string]any{"y": 2}))
	o := newOrchestrator(map[string]agent.Agent{"one": one}, nil)

	wf := twoStepWorkflow(recovery.FailFast)
	wf.Subtasks = wf.Subtasks[:1]
	exec, err := o.Execute(context.Background(), wf, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ChainFailed, exec.Status)
	assert.Equal(t, types.ClassDependency, exec.Subtasks[0].ErrorClass)
	assert.Equal(t, 0, one.Calls())
}

func TestExecute_ContinueOnErrorTreatsMissingAsNull(t *testing.T) {
	t.Parallel()
	down := &testutil.FailingAgent{AgentID: "one", Err: types.NewError(types.ErrUpstreamError, "down")}
	two := testutil.NewScriptedAgent("two", testutil.JSONResponse("two", map[string]any{"z": 4}))
	o := newOrchestrator(map[string]agent.Agent{"one": down, "two": two}, nil)

	wf := twoStepWorkflow(recovery.ContinueOnError)
	wf.Subtasks[1].Inputs[0].Required = false
	exec, err := o.Execute(context.Background(), wf, map[string]any{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ChainPartial, exec.Status)
	assert.Equal(t, 1, exec.SuccessCount)
	assert.Equal(t, orchestrator.SubtaskSkipped, exec.Subtasks[0].Status)
	assert.Equal(t, orchestrator.SubtaskSucceeded, exec.Subtasks[1].Status)
	// The missing variable rendered as empty, not as a crash.
	assert.Equal(t, "Double .", two.Prompts[0].Text)
}

func TestExecute_MergeOutputs(t *testing.T) {
	t.Parallel()
	one := testutil.NewScriptedAgent("one", testutil.JSONResponse("one", map[string]any{"y": 2}))
	two := testutil.NewScriptedAgent("two", testutil.JSONResponse("two", map[string]any{"z": 4}))
	o := newOrchestrator(map[string]agent.Agent{"one": one, "two": two}, nil)

	wf := twoStepWorkflow(recovery.RetryThenFail)
	wf.MergeOutputs = []string{"subtask1", "subtask2"}
	exec, err := o.Execute(context.Background(), wf, map[string]any{"x": 1})
	require.NoError(t, err)

	merged, ok := exec.FinalOutput.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"y": float64(2)}, merged["subtask1"])
	assert.Equal(t, map[string]any{"z": float64(4)}, merged["subtask2"])
}

// cancelingAgent cancels the run while completing its own step, so the
// orchestrator sees the cancellation before the next subtask.
type cancelingAgent struct {
	inner  agent.Agent
	cancel context.CancelFunc
}

func (a *cancelingAgent) ID() string { return a.inner.ID() }

func (a *cancelingAgent) Invoke(ctx context.Context, p agent.Prompt) (*types.AgentResponse, error) {
	resp, err := a.inner.Invoke(ctx, p)
	a.cancel()
	return resp, err
}

func TestExecute_CancellationBetweenSteps(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	one := &cancelingAgent{
		inner:  testutil.NewScriptedAgent("one", testutil.JSONResponse("one", map[string]any{"y": 2})),
		cancel: cancel,
	}
	two := testutil.NewScriptedAgent("two")
	o := newOrchestrator(map[string]agent.Agent{"one": one, "two": two}, nil)

	exec, err := o.Execute(ctx, twoStepWorkflow(recovery.RetryThenFail), map[string]any{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ChainFailed, exec.Status)
	// subtask1 finished, subtask2 never started.
	assert.Equal(t, 1, exec.SuccessCount)
	assert.Zero(t, two.Calls())
}

func TestExecute_CheckpointAndResume(t *testing.T) {
	t.Parallel()
	cps := store.NewMemoryCheckpointStore()
	checkpointer := recovery.NewCheckpointer(cps, nil)

	one := testutil.NewScriptedAgent("one", testutil.JSONResponse("one", map[string]any{"y": 2}))
	down := &testutil.FailingAgent{AgentID: "two", Err: types.NewError(types.ErrUpstreamError, "down")}
	o := newOrchestrator(map[string]agent.Agent{"one": one, "two": down},
		func(opts *orchestrator.Options) { opts.Checkpointer = checkpointer })

	wf := twoStepWorkflow(recovery.FailFast)
	failed, err := o.Execute(context.Background(), wf, map[string]any{"x": 1})
	require.NoError(t, err)
	require.Equal(t, orchestrator.ChainFailed, failed.Status)

	// Resume as a new execution with a working agent for subtask2.
	two := testutil.NewScriptedAgent("two", testutil.JSONResponse("two", map[string]any{"z": 4}))
	resumed := newOrchestrator(map[string]agent.Agent{"one": one, "two": two},
		func(opts *orchestrator.Options) { opts.Checkpointer = checkpointer })

	exec, err := resumed.Resume(context.Background(), wf, map[string]any{"x": 1}, failed.ID)
	require.NoError(t, err)

	assert.NotEqual(t, failed.ID, exec.ID)
	assert.Equal(t, orchestrator.ChainSucceeded, exec.Status)
	assert.Equal(t, 2, exec.SuccessCount)
	// subtask1 was carried from the checkpoint, not re-executed.
	assert.Equal(t, 1, one.Calls())
}

func TestExecute_AuditEventsEmitted(t *testing.T) {
	t.Parallel()
	audit := store.NewMemoryAuditLog()
	one := testutil.NewScriptedAgent("one", testutil.JSONResponse("one", map[string]any{"y": 2}))
	o := newOrchestrator(map[string]agent.Agent{"one": one},
		func(opts *orchestrator.Options) { opts.Audit = audit })

	wf := twoStepWorkflow(recovery.RetryThenFail)
	wf.Subtasks = wf.Subtasks[:1]
	_, err := o.Execute(context.Background(), wf, map[string]any{"x": 1})
	require.NoError(t, err)

	events := audit.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, store.EventSubtaskDone, events[len(events)-1].Type)
}

func TestExecute_InvalidWorkflowRejected(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(nil, nil)

	_, err := o.Execute(context.Background(), &orchestrator.WorkflowDefinition{Name: "empty"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrDescriptorBad, types.GetErrorCode(err))
}
