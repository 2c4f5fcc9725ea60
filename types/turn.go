package types

import (
	"encoding/json"
	"time"
)

// Role represents the role of a conversation participant.
type Role string

const (
	RoleSystem  Role = "system"
	RoleUser    Role = "user"
	RoleAgent   Role = "agent"
	RoleSummary Role = "summary"
	RoleTool    Role = "tool"
)

// Turn represents a single entry in a session's working context.
type Turn struct {
	Index     int               `json:"index"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	AgentID   string            `json:"agent_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewTurn creates a turn with the current timestamp. The index is assigned
// by the context manager when the turn is appended.
func NewTurn(role Role, content string) Turn {
	return Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ToolCall represents a tool invocation request emitted by an agent.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSchema defines a callable tool contract exposed to an agent's
// reasoning step.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// AgentResponse is the structured result of one agent invocation.
// ToolCalls carries any transfer requests; StructuredPayload carries an
// optional machine-readable result alongside the output text.
type AgentResponse struct {
	AgentID           string          `json:"agent_id"`
	OutputText        string          `json:"output_text"`
	ToolCalls         []ToolCall      `json:"tool_calls,omitempty"`
	StructuredPayload json.RawMessage `json:"structured_payload,omitempty"`
}
