package coordinator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/velsin/swarmflow/agent"
	"github.com/velsin/swarmflow/handoff"
	"github.com/velsin/swarmflow/internal/metrics"
	"github.com/velsin/swarmflow/orchestrator"
	"github.com/velsin/swarmflow/recovery"
	"github.com/velsin/swarmflow/registry"
	"github.com/velsin/swarmflow/store"
	"github.com/velsin/swarmflow/types"
)

// Request is one unit of incoming work.
type Request struct {
	// SessionID resumes an existing session when set.
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
	// Strategy overrides the coordinator's advisory selection.
	Strategy RouteStrategy `json:"strategy,omitempty"`
	// StartAgent overrides start-agent selection.
	StartAgent string `json:"start_agent,omitempty"`
	// Workflow routes the request to the chain executor.
	Workflow      *orchestrator.WorkflowDefinition `json:"workflow,omitempty"`
	WorkflowInput map[string]any                   `json:"workflow_input,omitempty"`
}

// Result is the structured outcome of Handle. Failures are data on the
// result, never a panic: a terminated swarm surfaces its partial chain and
// the last good output.
type Result struct {
	SessionID      string                       `json:"session_id,omitempty"`
	Strategy       RouteStrategy                `json:"strategy"`
	Classification Classification               `json:"classification"`
	Output         string                       `json:"output,omitempty"`
	Handoffs       []handoff.Entry              `json:"handoffs,omitempty"`
	Failure        *types.Error                 `json:"failure,omitempty"`
	Execution      *orchestrator.ChainExecution `json:"execution,omitempty"`
}

// Options wires the coordinator's collaborators. Registry, Agents and
// Sessions are required; the rest degrade gracefully when nil.
type Options struct {
	Registry     *registry.Registry
	Agents       map[string]agent.Agent
	Sessions     store.SessionStore
	Audit        store.AuditLog
	Collector    *metrics.Collector
	Orchestrator *orchestrator.Orchestrator
	Breaker      *recovery.Breaker
	Clock        recovery.Clock
	Logger       *zap.Logger

	// DefaultAgent handles requests no capability match covers.
	DefaultAgent string
	ChainConfig  handoff.ChainConfig
	RetryPolicy  recovery.RetryPolicy
}

// Coordinator routes requests: direct dispatch, swarm handoff sessions, or
// pre-declared workflow chains.
type Coordinator struct {
	opts   Options
	logger *zap.Logger
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = recovery.RealClock()
	}
	if opts.ChainConfig.MaxDepth == 0 && opts.ChainConfig.Lookback == 0 {
		opts.ChainConfig = handoff.DefaultChainConfig()
	}
	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy = recovery.DefaultRetryPolicy()
	}
	return &Coordinator{
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "coordinator")),
	}
}

// Handle classifies the request, picks a strategy and executes it.
func (c *Coordinator) Handle(ctx context.Context, req Request) (*Result, error) {
	cls := Classify(req.Text)
	strategy := req.Strategy
	if strategy == "" {
		strategy = SelectStrategy(cls, req.Workflow != nil)
	}

	c.logger.Info("request routed",
		zap.String("domain", string(cls.Domain)),
		zap.String("category", string(cls.Category)),
		zap.Int("complexity", cls.Complexity),
		zap.String("strategy", string(strategy)))

	switch strategy {
	case StrategySingleAgent:
		return c.runSingle(ctx, req, cls)
	case StrategyChain:
		return c.runChain(ctx, req, cls)
	case StrategySwarm:
		return c.runSwarm(ctx, req, cls)
	default:
		return nil, types.NewError(types.ErrInternalError, "unknown routing strategy "+string(strategy)).WithClass(types.ClassFatal)
	}
}

// startAgent picks the session's first agent: explicit override, then the
// first registered agent whose capabilities cover the domain, then the
// configured default. Fails closed when the winner's descriptor is broken.
func (c *Coordinator) startAgent(req Request, cls Classification) (string, error) {
	if req.StartAgent != "" {
		if _, err := c.opts.Registry.Get(req.StartAgent); err != nil {
			return "", err
		}
		return req.StartAgent, nil
	}
	for _, id := range c.opts.Registry.IDs() {
		desc, err := c.opts.Registry.Get(id)
		if err != nil {
			return "", err
		}
		for _, cap := range desc.Capabilities {
			if cap == string(cls.Domain) {
				return id, nil
			}
		}
	}
	if c.opts.DefaultAgent == "" {
		return "", types.NewError(types.ErrAgentNotFound, "no agent covers domain "+string(cls.Domain))
	}
	if _, err := c.opts.Registry.Get(c.opts.DefaultAgent); err != nil {
		return "", err
	}
	return c.opts.DefaultAgent, nil
}

func (c *Coordinator) runSingle(ctx context.Context, req Request, cls Classification) (*Result, error) {
	start, err := c.startAgent(req, cls)
	if err != nil {
		return nil, err
	}
	session := NewSession(uuid.NewString(), start, cls, c.opts.ChainConfig)
	session.HandoffsEnabled = false
	if err := session.save(ctx, c.opts.Sessions); err != nil {
		return nil, err
	}
	c.sessionStarted(ctx, session)

	result := &Result{SessionID: session.ID, Strategy: StrategySingleAgent, Classification: cls}
	resp, ec := c.invoke(ctx, session.CurrentAgent, agent.Prompt{Text: req.Text})
	if ec != nil {
		result.Failure = failureOf(ec)
		c.finishSession(ctx, session, SessionFailed)
		return result, nil
	}
	result.Output = resp.OutputText
	c.finishSession(ctx, session, SessionCompleted)
	return result, nil
}

func (c *Coordinator) runChain(ctx context.Context, req Request, cls Classification) (*Result, error) {
	if c.opts.Orchestrator == nil || req.Workflow == nil {
		return nil, types.NewError(types.ErrInternalError, "chain routing requires a workflow and an orchestrator").WithClass(types.ClassFatal)
	}
	exec, err := c.opts.Orchestrator.Execute(ctx, req.Workflow, req.WorkflowInput)
	if err != nil {
		return nil, err
	}
	result := &Result{Strategy: StrategyChain, Classification: cls, Execution: exec}
	if raw, err := json.Marshal(exec.FinalOutput); err == nil && exec.FinalOutput != nil {
		result.Output = string(raw)
	}
	return result, nil
}

// runSwarm drives the dynamic handoff loop: invoke the current agent,
// detect a transfer, validate it against the chain, enrich context, and
// persist the session on every mutation. A chain-level rejection is
// terminal and surfaces the partial chain plus the last good output.
func (c *Coordinator) runSwarm(ctx context.Context, req Request, cls Classification) (*Result, error) {
	session, err := c.openSession(ctx, req, cls)
	if err != nil {
		return nil, err
	}
	c.sessionStarted(ctx, session)

	result := &Result{SessionID: session.ID, Strategy: StrategySwarm, Classification: cls}
	prompt := agent.Prompt{Text: req.Text}
	lastOutput := ""

	for {
		tools, err := c.opts.Registry.HandoffToolSchemas(session.CurrentAgent)
		if err != nil {
			// Fail closed: never route to an agent that failed to load.
			result.Failure = asTypesError(err)
			result.Output = lastOutput
			result.Handoffs = session.Chain.Entries
			c.finishSession(ctx, session, SessionFailed)
			return result, nil
		}
		prompt.Tools = tools

		resp, ec := c.invoke(ctx, session.CurrentAgent, prompt)
		if ec != nil {
			result.Failure = failureOf(ec)
			result.Output = lastOutput
			result.Handoffs = session.Chain.Entries
			c.finishSession(ctx, session, SessionFailed)
			return result, nil
		}
		lastOutput = resp.OutputText

		handoffReq, found := handoff.Detect(resp)
		if !found || !session.HandoffsEnabled {
			result.Output = lastOutput
			result.Handoffs = session.Chain.Entries
			c.finishSession(ctx, session, SessionCompleted)
			return result, nil
		}

		targets, err := c.opts.Registry.HandoffTargets(session.CurrentAgent)
		if err != nil {
			result.Failure = asTypesError(err)
			result.Output = lastOutput
			result.Handoffs = session.Chain.Entries
			c.finishSession(ctx, session, SessionFailed)
			return result, nil
		}

		from := session.CurrentAgent
		if err := session.Chain.ValidateAndAppend(handoffReq, targets); err != nil {
			// Structural problem: terminate, surface the partial chain.
			c.rejectHandoff(ctx, session, handoffReq, err)
			result.Failure = asTypesError(err)
			result.Output = lastOutput
			result.Handoffs = session.Chain.Entries
			c.finishSession(ctx, session, SessionFailed)
			return result, nil
		}

		enriched := handoff.BuildContext(lastOutput, handoffReq, session.Context)
		session.Context = enriched.Carried
		session.CurrentAgent = handoffReq.Target
		if err := session.save(ctx, c.opts.Sessions); err != nil {
			return nil, err
		}
		c.acceptHandoff(ctx, session, from, handoffReq)

		prompt = agent.Prompt{
			Text:    req.Text,
			Context: enrichedPromptContext(enriched),
		}
	}
}

// openSession resumes the request's session or creates a fresh one.
func (c *Coordinator) openSession(ctx context.Context, req Request, cls Classification) (*Session, error) {
	if req.SessionID != "" {
		rec, err := c.opts.Sessions.Get(ctx, req.SessionID)
		if err == nil {
			return sessionFromRecord(rec)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	start, err := c.startAgent(req, cls)
	if err != nil {
		return nil, err
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	session := NewSession(id, start, cls, c.opts.ChainConfig)
	if err := session.save(ctx, c.opts.Sessions); err != nil {
		return nil, err
	}
	return session, nil
}

// invoke runs one agent call through the recovery layer.
func (c *Coordinator) invoke(ctx context.Context, agentID string, prompt agent.Prompt) (*types.AgentResponse, *recovery.ErrorContext) {
	ag, ok := c.opts.Agents[agentID]
	if !ok {
		return nil, &recovery.ErrorContext{
			StepID:   agentID,
			StepName: agentID,
			Class:    types.ClassFatal,
			Attempts: 0,
			Action:   recovery.ActionAborted,
			Err:      types.NewError(types.ErrAgentNotFound, "agent "+agentID+" is not wired"),
		}
	}

	executor := recovery.NewExecutor(recovery.RetryThenFail, c.opts.RetryPolicy, c.opts.Breaker, c.opts.Clock, c.opts.Logger)
	ok2, out, ec := executor.ExecuteWithRecovery(ctx, agentID, agentID, func(ctx context.Context) (any, error) {
		return ag.Invoke(ctx, prompt)
	}, nil)
	if !ok2 {
		return nil, ec
	}
	resp, _ := out.(*types.AgentResponse)
	if resp == nil {
		return nil, &recovery.ErrorContext{
			StepID:   agentID,
			StepName: agentID,
			Class:    types.ClassValidation,
			Attempts: 1,
			Action:   recovery.ActionAborted,
			Err:      types.NewError(types.ErrUpstreamError, "agent "+agentID+" returned no response"),
		}
	}
	return resp, nil
}

func (c *Coordinator) sessionStarted(ctx context.Context, session *Session) {
	if c.opts.Collector != nil {
		c.opts.Collector.SessionStarted()
	}
	c.audit(ctx, session.ID, store.EventSessionStart, map[string]any{
		"agent":  session.CurrentAgent,
		"domain": string(session.Domain),
	})
}

func (c *Coordinator) finishSession(ctx context.Context, session *Session, status string) {
	session.Status = status
	if err := session.save(ctx, c.opts.Sessions); err != nil {
		c.logger.Warn("session save failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	if c.opts.Collector != nil {
		c.opts.Collector.SessionEnded()
		c.opts.Collector.RecordChainDepth(session.Chain.Depth())
	}
	c.audit(ctx, session.ID, store.EventSessionEnd, map[string]any{
		"status": status,
		"depth":  session.Chain.Depth(),
	})
}

func (c *Coordinator) acceptHandoff(ctx context.Context, session *Session, from string, req *handoff.Request) {
	if c.opts.Collector != nil {
		c.opts.Collector.RecordHandoff(from, req.Target)
	}
	c.audit(ctx, session.ID, store.EventHandoff, map[string]any{
		"from":   from,
		"to":     req.Target,
		"reason": req.Reason,
	})
	c.logger.Info("handoff accepted",
		zap.String("session_id", session.ID),
		zap.String("from", from),
		zap.String("to", req.Target))
}

func (c *Coordinator) rejectHandoff(ctx context.Context, session *Session, req *handoff.Request, err error) {
	code := string(types.GetErrorCode(err))
	if c.opts.Collector != nil {
		c.opts.Collector.RecordHandoffRejection(code)
	}
	c.audit(ctx, session.ID, store.EventHandoffRejected, map[string]any{
		"target": req.Target,
		"code":   code,
	})
	c.logger.Warn("handoff rejected",
		zap.String("session_id", session.ID),
		zap.String("target", req.Target),
		zap.String("code", code))
}

func (c *Coordinator) audit(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if c.opts.Audit == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	event := store.AuditEvent{
		Timestamp: c.opts.Clock.Now(),
		SessionID: sessionID,
		Type:      eventType,
		Payload:   raw,
	}
	if err := c.opts.Audit.Append(ctx, event); err != nil {
		c.logger.Warn("audit append failed", zap.Error(err))
	}
}

// enrichedPromptContext flattens the enriched handoff context into the
// next agent's prompt context.
func enrichedPromptContext(ec handoff.EnrichedContext) map[string]string {
	out := make(map[string]string, len(ec.Carried)+2)
	for k, v := range ec.Carried {
		out[k] = v
	}
	if ec.Reason != "" {
		out["handoff_reason"] = ec.Reason
	}
	if ec.PreviousOutput != "" {
		out["previous_output"] = ec.PreviousOutput
	}
	return out
}

// failureOf converts a recovery error context to a structured error.
func failureOf(ec *recovery.ErrorContext) *types.Error {
	if e := asTypesError(ec.Err); e != nil {
		return e
	}
	msg := "agent invocation failed"
	if ec.Err != nil {
		msg = ec.Err.Error()
	}
	return types.NewError(types.ErrInternalError, msg).WithClass(ec.Class)
}

func asTypesError(err error) *types.Error {
	var e *types.Error
	if errors.As(err, &e) {
		return e
	}
	if err == nil {
		return nil
	}
	return types.NewError(types.ErrInternalError, err.Error())
}
