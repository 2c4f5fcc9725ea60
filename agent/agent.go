// Package agent defines the callable contract between the engine and its
// reasoning units. An Agent is an opaque brain: it receives a rendered
// prompt plus enriched context and returns output text, optional tool
// calls and an optional structured payload. Invocations must be safe to
// retry; the engine never assumes exactly-once side effects inside a call.
package agent

import (
	"context"

	"github.com/velsin/swarmflow/types"
)

// Prompt is the fully rendered input handed to an agent.
type Prompt struct {
	// Text is the rendered prompt template.
	Text string `json:"text"`
	// Context carries cross-agent continuity: handoff reason, previous
	// output, session key-values.
	Context map[string]string `json:"context,omitempty"`
	// Tools are the invocation contracts exposed to the reasoning step,
	// including the transfer tools synthesized from the registry.
	Tools []types.ToolSchema `json:"tools,omitempty"`
}

// Agent is the external reasoning collaborator.
type Agent interface {
	ID() string
	Invoke(ctx context.Context, prompt Prompt) (*types.AgentResponse, error)
}
