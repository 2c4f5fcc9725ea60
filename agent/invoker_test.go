package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velsin/swarmflow/agent"
	"github.com/velsin/swarmflow/types"
)

type slowAgent struct {
	id    string
	delay time.Duration
}

func (a *slowAgent) ID() string { return a.id }

func (a *slowAgent) Invoke(ctx context.Context, _ agent.Prompt) (*types.AgentResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(a.delay):
		return &types.AgentResponse{AgentID: a.id, OutputText: "done"}, nil
	}
}

func TestInvoker_PassesThroughSuccess(t *testing.T) {
	t.Parallel()
	inv := agent.NewInvoker(&slowAgent{id: "fast", delay: time.Millisecond}, agent.DefaultInvokerConfig(), nil, nil)

	resp, err := inv.Invoke(context.Background(), agent.Prompt{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.OutputText)
	assert.Equal(t, "fast", inv.ID())
}

func TestInvoker_TimeoutClassifiedTransient(t *testing.T) {
	t.Parallel()
	cfg := agent.InvokerConfig{Timeout: 20 * time.Millisecond}
	inv := agent.NewInvoker(&slowAgent{id: "slow", delay: time.Second}, cfg, nil, nil)

	_, err := inv.Invoke(context.Background(), agent.Prompt{Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Equal(t, types.ClassTransient, types.Classify(err))
}

type erroringAgent struct{ id string }

func (a *erroringAgent) ID() string { return a.id }

func (a *erroringAgent) Invoke(context.Context, agent.Prompt) (*types.AgentResponse, error) {
	return nil, errors.New("brain offline")
}

func TestInvoker_PropagatesAgentError(t *testing.T) {
	t.Parallel()
	inv := agent.NewInvoker(&erroringAgent{id: "broken"}, agent.DefaultInvokerConfig(), nil, nil)

	_, err := inv.Invoke(context.Background(), agent.Prompt{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brain offline")
}

func TestInvoker_RateLimitWaitCanceled(t *testing.T) {
	t.Parallel()
	cfg := agent.InvokerConfig{RatePerSecond: 0.001, Burst: 1}
	inv := agent.NewInvoker(&slowAgent{id: "limited", delay: time.Millisecond}, cfg, nil, nil)

	// First call consumes the burst token.
	_, err := inv.Invoke(context.Background(), agent.Prompt{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = inv.Invoke(ctx, agent.Prompt{})
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}
