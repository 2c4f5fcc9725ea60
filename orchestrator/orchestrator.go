package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/velsin/swarmflow/agent"
	"github.com/velsin/swarmflow/internal/metrics"
	"github.com/velsin/swarmflow/recovery"
	"github.com/velsin/swarmflow/store"
	"github.com/velsin/swarmflow/types"
)

// Options wires the orchestrator's collaborators. DefaultAgent or a
// per-subtask entry in Agents must cover every subtask; Checkpointer,
// Audit, Collector and Breaker are optional.
type Options struct {
	DefaultAgent agent.Agent
	Agents       map[string]agent.Agent
	Rollbacks    map[string]recovery.RollbackFunc
	Checkpointer *recovery.Checkpointer
	Audit        store.AuditLog
	Collector    *metrics.Collector
	Breaker      *recovery.Breaker
	Clock        recovery.Clock
	Logger       *zap.Logger
}

// Orchestrator executes workflow definitions subtask by subtask in
// dependency order. One execution runs at a time per instance; subtask
// N+1 never starts before subtask N finishes.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = recovery.RealClock()
	}
	return &Orchestrator{
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "orchestrator")),
	}
}

// Execute runs the workflow from the start with the given initial input.
// The returned execution is always a complete structured result; errors
// are data on the execution, not a Go error, except for an invalid
// definition.
func (o *Orchestrator) Execute(ctx context.Context, wf *WorkflowDefinition, initialInput map[string]any) (*ChainExecution, error) {
	return o.run(ctx, wf, initialInput, nil)
}

// Resume starts a new execution of the workflow from the latest
// checkpoint saved under chainID. Completed subtasks are carried over as
// succeeded and not re-executed.
func (o *Orchestrator) Resume(ctx context.Context, wf *WorkflowDefinition, initialInput map[string]any, chainID string) (*ChainExecution, error) {
	if o.opts.Checkpointer == nil {
		return nil, types.NewError(types.ErrInternalError, "no checkpointer configured").WithClass(types.ClassFatal)
	}
	cp, err := o.opts.Checkpointer.Latest(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, wf, initialInput, cp)
}

func (o *Orchestrator) run(ctx context.Context, wf *WorkflowDefinition, initialInput map[string]any, cp *recovery.Checkpoint) (*ChainExecution, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	order, err := wf.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	exec := &ChainExecution{
		ID:           uuid.NewString(),
		WorkflowName: wf.Name,
		Strategy:     wf.Recovery.Strategy,
		Status:       ChainPending,
		StartedAt:    o.opts.Clock.Now(),
	}

	vars := make(map[string]any, len(initialInput))
	for k, v := range initialInput {
		vars[k] = v
	}
	outputs := make(map[string]any)
	var lastOutput any

	carried := make(map[string]bool)
	if cp != nil {
		for _, name := range cp.CompletedSteps {
			carried[name] = true
			out := cp.Outputs[name]
			outputs[name] = out
			mergeVars(vars, out)
			lastOutput = out
			exec.record(SubtaskExecution{Name: name, Status: SubtaskSucceeded, Output: out, RetryAttempts: 1})
		}
	}

	retries := make(map[string]int)
	executor := recovery.NewExecutor(wf.Recovery.Strategy, wf.Recovery.Retry, o.opts.Breaker, o.opts.Clock, o.opts.Logger)
	executor.OnRetry = func(stepID string, attempt int, err error) {
		retries[stepID]++
		if o.opts.Collector != nil {
			o.opts.Collector.RecordRetry(wf.Name)
		}
		o.audit(ctx, exec.ID, store.EventRetry, map[string]any{
			"subtask": stepID,
			"attempt": attempt,
			"error":   err.Error(),
		})
	}

	exec.transition(ChainRunning)
	o.logger.Info("workflow started",
		zap.String("workflow", wf.Name),
		zap.String("execution_id", exec.ID),
		zap.Int("subtasks", len(order)))

	aborted := false
	skipped := false

	for _, name := range order {
		if carried[name] {
			continue
		}
		// Cancellation is cooperative: checked between units of work.
		if ctx.Err() != nil {
			aborted = true
			break
		}

		st := wf.Subtask(name)
		o.checkpoint(ctx, exec, wf.Name, outputs)

		started := o.opts.Clock.Now()
		ok, out, ec := executor.ExecuteWithRecovery(ctx, name, name,
			o.stepFunc(st, vars), o.rollbackFor(st))
		finished := o.opts.Clock.Now()

		rec := SubtaskExecution{
			Name:          name,
			AgentID:       st.Agent,
			RetryAttempts: retries[name] + 1,
			StartedAt:     started,
			FinishedAt:    finished,
		}

		if ok {
			rec.Status = SubtaskSucceeded
			rec.Output = out
			outputs[name] = out
			mergeVars(vars, out)
			lastOutput = out
			exec.record(rec)
			o.recordSubtask(wf.Name, name, rec, started, finished)
			o.audit(ctx, exec.ID, store.EventSubtaskDone, map[string]any{
				"subtask": name,
				"status":  string(rec.Status),
			})
			continue
		}

		rec.RetryAttempts = ec.Attempts
		rec.ErrorClass = ec.Class
		if ec.Err != nil {
			rec.ErrorMessage = ec.Err.Error()
		}
		if ec.Action == recovery.ActionSkipped {
			rec.Status = SubtaskSkipped
			skipped = true
		} else {
			rec.Status = SubtaskFailed
			aborted = true
		}
		exec.record(rec)
		o.recordSubtask(wf.Name, name, rec, started, finished)
		o.audit(ctx, exec.ID, store.EventSubtaskDone, map[string]any{
			"subtask": name,
			"status":  string(rec.Status),
			"class":   string(ec.Class),
		})
		if aborted {
			break
		}
	}

	switch {
	case aborted:
		exec.transition(ChainFailed)
	case skipped:
		exec.transition(ChainPartial)
	default:
		exec.transition(ChainSucceeded)
	}
	exec.FinalOutput = o.finalOutput(wf, outputs, lastOutput)
	exec.FinishedAt = o.opts.Clock.Now()

	o.logger.Info("workflow finished",
		zap.String("workflow", wf.Name),
		zap.String("execution_id", exec.ID),
		zap.String("status", string(exec.Status)),
		zap.Int("success_count", exec.SuccessCount))
	return exec, nil
}

// stepFunc bundles input resolution, prompt rendering, agent invocation,
// and output validation so every failure flows through one recovery path.
func (o *Orchestrator) stepFunc(st *SubtaskSpec, vars map[string]any) recovery.StepFunc {
	return func(ctx context.Context) (any, error) {
		inputs, err := resolveInputs(st, vars)
		if err != nil {
			return nil, err
		}

		ag := o.agentFor(st)
		if ag == nil {
			return nil, types.NewError(types.ErrAgentNotFound,
				"no agent available for subtask "+st.Name)
		}

		prompt := agent.Prompt{
			Text:    renderPrompt(st.PromptTemplate, inputs),
			Context: stringifyVars(inputs),
		}
		resp, err := ag.Invoke(ctx, prompt)
		if err != nil {
			return nil, err
		}

		out, err := parseOutput(resp)
		if err != nil {
			return nil, err
		}
		if err := validateOutput(st, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (o *Orchestrator) agentFor(st *SubtaskSpec) agent.Agent {
	if st.Agent != "" {
		if ag, ok := o.opts.Agents[st.Agent]; ok {
			return ag
		}
		return nil
	}
	return o.opts.DefaultAgent
}

func (o *Orchestrator) rollbackFor(st *SubtaskSpec) recovery.RollbackFunc {
	if st.Rollback == "" {
		return nil
	}
	return o.opts.Rollbacks[st.Rollback]
}

func (o *Orchestrator) checkpoint(ctx context.Context, exec *ChainExecution, workflowName string, outputs map[string]any) {
	if o.opts.Checkpointer == nil {
		return
	}
	if err := o.opts.Checkpointer.Save(ctx, exec.ID, workflowName, exec.completedSteps(), outputs); err != nil {
		// A broken checkpoint store degrades resume, not execution.
		o.logger.Warn("checkpoint save failed", zap.Error(err))
	}
}

func (o *Orchestrator) recordSubtask(workflow, name string, rec SubtaskExecution, started, finished time.Time) {
	if o.opts.Collector == nil {
		return
	}
	o.opts.Collector.RecordSubtask(workflow, name, string(rec.Status), finished.Sub(started))
}

func (o *Orchestrator) audit(ctx context.Context, executionID, eventType string, payload map[string]any) {
	if o.opts.Audit == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	event := store.AuditEvent{
		Timestamp: o.opts.Clock.Now(),
		SessionID: executionID,
		Type:      eventType,
		Payload:   raw,
	}
	if err := o.opts.Audit.Append(ctx, event); err != nil {
		o.logger.Warn("audit append failed", zap.Error(err))
	}
}

// finalOutput is the last successful subtask's output, or the declared
// merge map when the workflow names one.
func (o *Orchestrator) finalOutput(wf *WorkflowDefinition, outputs map[string]any, lastOutput any) any {
	if len(wf.MergeOutputs) == 0 {
		return lastOutput
	}
	merged := make(map[string]any, len(wf.MergeOutputs))
	for _, name := range wf.MergeOutputs {
		merged[name] = outputs[name]
	}
	return merged
}

// resolveInputs pulls the declared variables out of the variable space. A
// missing required variable is a dependency error; a missing optional one
// resolves to the empty string so the prompt renders without it.
func resolveInputs(st *SubtaskSpec, vars map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(st.Inputs))
	for _, in := range st.Inputs {
		v, ok := vars[in.Name]
		if !ok {
			if in.Required {
				return nil, types.NewError(types.ErrMissingInput,
					fmt.Sprintf("subtask %s requires variable %s which no earlier step produced", st.Name, in.Name))
			}
			resolved[in.Name] = ""
			continue
		}
		resolved[in.Name] = v
	}
	return resolved, nil
}

// parseOutput decodes the agent's structured payload, falling back to the
// output text when it is valid JSON and to the raw text otherwise.
func parseOutput(resp *types.AgentResponse) (any, error) {
	if resp == nil {
		return nil, types.NewError(types.ErrUpstreamError, "agent returned no response")
	}
	if len(resp.StructuredPayload) > 0 {
		var v any
		if err := json.Unmarshal(resp.StructuredPayload, &v); err != nil {
			return nil, types.NewError(types.ErrSchemaMismatch, "structured payload is not valid JSON").WithCause(err)
		}
		return v, nil
	}
	var v any
	if err := json.Unmarshal([]byte(resp.OutputText), &v); err == nil {
		return v, nil
	}
	return resp.OutputText, nil
}

// validateOutput checks the output against the subtask's structured
// example: every example key must be present with a matching JSON type.
// Mismatches are validation errors and are never retried.
func validateOutput(st *SubtaskSpec, out any) error {
	if len(st.OutputSchema) == 0 {
		return nil
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return types.NewError(types.ErrSchemaMismatch,
			"subtask "+st.Name+" output is not an object")
	}
	for key, example := range st.OutputSchema {
		v, present := obj[key]
		if !present {
			return types.NewError(types.ErrSchemaMismatch,
				fmt.Sprintf("subtask %s output is missing field %s", st.Name, key))
		}
		if !sameJSONType(example, v) {
			return types.NewError(types.ErrSchemaMismatch,
				fmt.Sprintf("subtask %s output field %s has type %s, want %s", st.Name, key, jsonType(v), jsonType(example)))
		}
	}
	return nil
}

func mergeVars(vars map[string]any, out any) {
	if obj, ok := out.(map[string]any); ok {
		for k, v := range obj {
			vars[k] = v
		}
	}
}

func stringifyVars(vars map[string]any) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

func sameJSONType(example, v any) bool {
	if example == nil {
		return true
	}
	return jsonType(example) == jsonType(v)
}
