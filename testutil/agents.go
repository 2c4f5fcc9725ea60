// Package testutil provides scripted agents and helpers shared by the
// engine's tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/velsin/swarmflow/agent"
	"github.com/velsin/swarmflow/types"
)

// ScriptedAgent replays a fixed sequence of responses, one per Invoke
// call. When the script is exhausted the last response repeats.
type ScriptedAgent struct {
	AgentID string
	Script  []*types.AgentResponse
	Errs    []error

	mu      sync.Mutex
	calls   int
	Prompts []agent.Prompt
}

// NewScriptedAgent creates an agent that replays the given responses.
func NewScriptedAgent(id string, script ...*types.AgentResponse) *ScriptedAgent {
	return &ScriptedAgent{AgentID: id, Script: script}
}

// ID implements agent.Agent.
func (a *ScriptedAgent) ID() string { return a.AgentID }

// Invoke implements agent.Agent.
func (a *ScriptedAgent) Invoke(_ context.Context, prompt agent.Prompt) (*types.AgentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.calls
	a.calls++
	a.Prompts = append(a.Prompts, prompt)

	if idx < len(a.Errs) && a.Errs[idx] != nil {
		return nil, a.Errs[idx]
	}
	if len(a.Script) == 0 {
		return &types.AgentResponse{AgentID: a.AgentID, OutputText: "ok"}, nil
	}
	if idx >= len(a.Script) {
		idx = len(a.Script) - 1
	}
	return a.Script[idx], nil
}

// Calls returns how many times the agent has been invoked.
func (a *ScriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// TextResponse builds a plain final-output response.
func TextResponse(agentID, text string) *types.AgentResponse {
	return &types.AgentResponse{AgentID: agentID, OutputText: text}
}

// JSONResponse builds a response whose structured payload is the JSON
// encoding of v. Panics on marshal failure: test fixtures must be valid.
func JSONResponse(agentID string, v any) *types.AgentResponse {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: fixture not serializable: %v", err))
	}
	return &types.AgentResponse{AgentID: agentID, OutputText: string(raw), StructuredPayload: raw}
}

// HandoffResponse builds a response containing a transfer tool call to the
// target with the given reason and context payload.
func HandoffResponse(agentID, target, reason string, context map[string]string) *types.AgentResponse {
	args, err := json.Marshal(map[string]any{"reason": reason, "context": context})
	if err != nil {
		panic(fmt.Sprintf("testutil: fixture not serializable: %v", err))
	}
	return &types.AgentResponse{
		AgentID:    agentID,
		OutputText: "transferring",
		ToolCalls: []types.ToolCall{{
			ID:        "tc-" + target,
			Name:      "transfer_to_" + target,
			Arguments: args,
		}},
	}
}

// FailingAgent always returns the same error.
type FailingAgent struct {
	AgentID string
	Err     error
}

// ID implements agent.Agent.
func (a *FailingAgent) ID() string { return a.AgentID }

// Invoke implements agent.Agent.
func (a *FailingAgent) Invoke(context.Context, agent.Prompt) (*types.AgentResponse, error) {
	return nil, a.Err
}
