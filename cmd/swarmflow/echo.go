package main

import (
	"context"
	"encoding/json"

	"github.com/velsin/swarmflow/agent"
	"github.com/velsin/swarmflow/types"
)

// echoAgent answers every prompt with a JSON echo of what it received.
// It stands in for a real model backend during dry runs.
type echoAgent struct {
	id string
}

func (a echoAgent) ID() string { return a.id }

func (a echoAgent) Invoke(_ context.Context, prompt agent.Prompt) (*types.AgentResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"agent":   a.id,
		"prompt":  prompt.Text,
		"context": prompt.Context,
	})
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode echo payload").WithCause(err)
	}
	return &types.AgentResponse{
		AgentID:           a.id,
		OutputText:        string(payload),
		StructuredPayload: payload,
	}, nil
}
