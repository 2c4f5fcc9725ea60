package handoff

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velsin/swarmflow/types"
)

func transferCall(t *testing.T, target, reason string, context map[string]string) types.ToolCall {
	t.Helper()
	args, err := json.Marshal(map[string]any{"reason": reason, "context": context})
	require.NoError(t, err)
	return types.ToolCall{ID: "tc-1", Name: "transfer_to_" + target, Arguments: args}
}

func TestDetect_NoHandoff(t *testing.T) {
	t.Parallel()
	resp := &types.AgentResponse{AgentID: "a", OutputText: "final answer"}
	req, ok := Detect(resp)
	assert.False(t, ok)
	assert.Nil(t, req)
}

func TestDetect_NilResponse(t *testing.T) {
	t.Parallel()
	_, ok := Detect(nil)
	assert.False(t, ok)
}

func TestDetect_ExtractsTargetReasonAndContext(t *testing.T) {
	t.Parallel()
	resp := &types.AgentResponse{
		AgentID:    "triage",
		OutputText: "needs a specialist",
		ToolCalls: []types.ToolCall{
			{ID: "x", Name: "lookup_docs", Arguments: json.RawMessage(`{}`)},
			transferCall(t, "network", "packet loss investigation", map[string]string{"host": "db-3"}),
		},
	}

	req, ok := Detect(resp)
	require.True(t, ok)
	assert.Equal(t, "network", req.Target)
	assert.Equal(t, "packet loss investigation", req.Reason)
	assert.Equal(t, "db-3", req.Context["host"])
}

func TestDetect_MalformedArgumentsStillYieldsRequest(t *testing.T) {
	t.Parallel()
	resp := &types.AgentResponse{
		ToolCalls: []types.ToolCall{
			{ID: "x", Name: "transfer_to_security", Arguments: json.RawMessage(`not json`)},
		},
	}

	req, ok := Detect(resp)
	require.True(t, ok)
	assert.Equal(t, "security", req.Target)
	assert.Empty(t, req.Reason)
}

func TestDetect_EmptyTargetIgnored(t *testing.T) {
	t.Parallel()
	resp := &types.AgentResponse{
		ToolCalls: []types.ToolCall{{Name: "transfer_to_"}},
	}
	_, ok := Detect(resp)
	assert.False(t, ok)
}

func TestDetect_ContextCappedWithMarker(t *testing.T) {
	t.Parallel()
	huge := strings.Repeat("x", MaxContextChars*2)
	resp := &types.AgentResponse{
		ToolCalls: []types.ToolCall{
			transferCall(t, "network", "r", map[string]string{"blob": huge}),
		},
	}

	req, ok := Detect(resp)
	require.True(t, ok)
	v := req.Context["blob"]
	assert.True(t, strings.HasSuffix(v, TruncationMarker))
	assert.LessOrEqual(t, len("blob")+len(v), MaxContextChars+len(TruncationMarker))
}

func TestBuildContext_RequestKeysWin(t *testing.T) {
	t.Parallel()
	req := &Request{
		Target:  "network",
		Reason:  "escalation",
		Context: map[string]string{"ticket": "T-99"},
	}
	carried := map[string]string{"ticket": "T-1", "user": "sam"}

	ec := BuildContext("previous findings", req, carried)
	assert.Equal(t, "escalation", ec.Reason)
	assert.Equal(t, "previous findings", ec.PreviousOutput)
	assert.Equal(t, "T-99", ec.Carried["ticket"])
	assert.Equal(t, "sam", ec.Carried["user"])
}

func TestBuildContext_TruncatesPreviousOutput(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("y", MaxContextChars+500)
	ec := BuildContext(long, &Request{Target: "a"}, nil)
	assert.Len(t, ec.PreviousOutput, MaxContextChars)
	assert.True(t, strings.HasSuffix(ec.PreviousOutput, TruncationMarker))
}
