// Package handoff detects agent-to-agent transfer requests in structured
// agent output and tracks the resulting handoff chain: depth limiting, loop
// prevention, and context carry-over between agents.
package handoff

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/velsin/swarmflow/registry"
	"github.com/velsin/swarmflow/types"
)

// MaxContextChars caps the context payload carried across a handoff.
const MaxContextChars = 2000

// TruncationMarker is appended when a context payload is cut at the cap.
const TruncationMarker = "...[truncated]"

// Request is an agent's wish to transfer control to a named collaborator.
// Ephemeral: consumed immediately by the swarm driver, persisted only in the
// audit log.
type Request struct {
	Target  string            `json:"target"`
	Reason  string            `json:"reason"`
	Context map[string]string `json:"context,omitempty"`
}

// transferArgs is the argument payload of a transfer_to_* tool call.
type transferArgs struct {
	Reason  string            `json:"reason"`
	Context map[string]string `json:"context"`
}

// Detect scans an agent's structured response for a transfer invocation.
// Returns (nil, false) when no handoff is present, in which case the
// response is the agent's final output. A transfer call with undecodable
// arguments still yields a request for the named target: validation against
// the registry decides its fate, never silent string matching.
func Detect(resp *types.AgentResponse) (*Request, bool) {
	if resp == nil {
		return nil, false
	}
	for _, tc := range resp.ToolCalls {
		if !strings.HasPrefix(tc.Name, registry.TransferToolPrefix) {
			continue
		}
		target := strings.TrimPrefix(tc.Name, registry.TransferToolPrefix)
		if target == "" {
			continue
		}

		var args transferArgs
		if len(tc.Arguments) > 0 {
			// Malformed arguments degrade to an empty reason, not a miss.
			_ = json.Unmarshal(tc.Arguments, &args)
		}

		req := &Request{
			Target:  target,
			Reason:  args.Reason,
			Context: capContext(args.Context),
		}
		return req, true
	}
	return nil, false
}

// capContext bounds the total payload size, truncating the value that
// crosses the cap and dropping the rest. Keys are visited in sorted order so
// the result is deterministic.
func capContext(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(in))
	budget := MaxContextChars
	for _, k := range keys {
		v := in[k]
		cost := len(k) + len(v)
		if cost <= budget {
			out[k] = v
			budget -= cost
			continue
		}
		// Partial fit: keep what the budget allows, mark the cut.
		remain := budget - len(k)
		if remain > 0 {
			out[k] = v[:remain] + TruncationMarker
		}
		break
	}
	return out
}

// EnrichedContext is what the next agent receives after a handoff: the
// transfer payload merged with carried-forward session context, under the
// same size cap as the request payload.
type EnrichedContext struct {
	Reason         string            `json:"reason"`
	PreviousOutput string            `json:"previous_output,omitempty"`
	Carried        map[string]string `json:"carried,omitempty"`
}

// BuildContext merges the handoff's context payload with carried-forward
// session context. Request keys win over carried keys; the merged map is
// re-capped so continuity never exceeds the payload budget.
func BuildContext(previousOutput string, req *Request, carried map[string]string) EnrichedContext {
	merged := make(map[string]string, len(carried)+len(req.Context))
	for k, v := range carried {
		merged[k] = v
	}
	for k, v := range req.Context {
		merged[k] = v
	}

	if len(previousOutput) > MaxContextChars {
		previousOutput = previousOutput[:MaxContextChars-len(TruncationMarker)] + TruncationMarker
	}

	return EnrichedContext{
		Reason:         req.Reason,
		PreviousOutput: previousOutput,
		Carried:        capContext(merged),
	}
}
