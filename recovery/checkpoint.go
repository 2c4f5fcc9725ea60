package recovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/velsin/swarmflow/store"
	"github.com/velsin/swarmflow/types"
)

// Checkpointer snapshots chain progress so a restarted process can resume
// from the last completed step instead of the start.
type Checkpointer struct {
	store  store.CheckpointStore
	logger *zap.Logger
}

// NewCheckpointer wraps a checkpoint store. logger may be nil.
func NewCheckpointer(cs store.CheckpointStore, logger *zap.Logger) *Checkpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{
		store:  cs,
		logger: logger.With(zap.String("component", "checkpointer")),
	}
}

// Save persists the chain's completed steps and their outputs as a new
// checkpoint version.
func (c *Checkpointer) Save(ctx context.Context, chainID, workflowName string, completedSteps []string, outputs map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(outputs))
	for name, out := range outputs {
		raw, err := json.Marshal(out)
		if err != nil {
			return types.NewError(types.ErrInternalError, "checkpoint output for step "+name+" is not serializable").
				WithCause(err).WithClass(types.ClassFatal)
		}
		encoded[name] = raw
	}

	rec := &store.CheckpointRecord{
		ID:             uuid.NewString(),
		ChainID:        chainID,
		Version:        len(completedSteps),
		CompletedSteps: append([]string(nil), completedSteps...),
		Outputs:        encoded,
		WorkflowName:   workflowName,
		CreatedAt:      time.Now(),
	}
	if err := c.store.Save(ctx, rec); err != nil {
		return types.NewError(types.ErrInternalError, "saving checkpoint failed").
			WithCause(err).WithClass(types.ClassTransient)
	}
	c.logger.Debug("checkpoint saved",
		zap.String("chain_id", chainID),
		zap.Int("completed_steps", len(completedSteps)))
	return nil
}

// Latest returns the most recent checkpoint for the chain, with outputs
// decoded. Returns store.ErrNotFound when the chain has none.
func (c *Checkpointer) Latest(ctx context.Context, chainID string) (*Checkpoint, error) {
	rec, err := c.store.Latest(ctx, chainID)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]any, len(rec.Outputs))
	for name, raw := range rec.Outputs {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, types.NewError(types.ErrInternalError, "checkpoint output for step "+name+" is corrupt").
				WithCause(err).WithClass(types.ClassFatal)
		}
		outputs[name] = v
	}
	return &Checkpoint{
		ChainID:        rec.ChainID,
		WorkflowName:   rec.WorkflowName,
		CompletedSteps: rec.CompletedSteps,
		Outputs:        outputs,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

// Checkpoint is a decoded checkpoint record.
type Checkpoint struct {
	ChainID        string         `json:"chain_id"`
	WorkflowName   string         `json:"workflow_name"`
	CompletedSteps []string       `json:"completed_steps"`
	Outputs        map[string]any `json:"outputs"`
	CreatedAt      time.Time      `json:"created_at"`
}
