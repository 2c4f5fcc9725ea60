package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/velsin/swarmflow/handoff"
	"github.com/velsin/swarmflow/store"
	"github.com/velsin/swarmflow/types"
)

// Session lifecycle states.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// Session is the top-level mutable aggregate for one conversation: the
// active agent, the handoff chain, carried context and the classification
// that routed it. It has exactly one owner; every mutation is persisted
// for crash recovery.
type Session struct {
	ID              string            `json:"id"`
	CurrentAgent    string            `json:"current_agent"`
	Chain           *handoff.Chain    `json:"chain"`
	Context         map[string]string `json:"context,omitempty"`
	HandoffsEnabled bool              `json:"handoffs_enabled"`
	Domain          Domain            `json:"domain"`
	Confidence      float64           `json:"confidence"`
	Status          string            `json:"status"`
}

// NewSession creates an active session rooted at the start agent.
func NewSession(id, startAgent string, cls Classification, chainCfg handoff.ChainConfig) *Session {
	return &Session{
		ID:              id,
		CurrentAgent:    startAgent,
		Chain:           handoff.NewChain(id, startAgent, chainCfg),
		Context:         make(map[string]string),
		HandoffsEnabled: true,
		Domain:          cls.Domain,
		Confidence:      cls.Confidence,
		Status:          SessionActive,
	}
}

// record converts the session to its durable form.
func (s *Session) record() (*store.SessionRecord, error) {
	chain, err := json.Marshal(s.Chain)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "session chain is not serializable").WithCause(err)
	}
	sessionCtx, err := json.Marshal(s.Context)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "session context is not serializable").WithCause(err)
	}
	return &store.SessionRecord{
		ID:              s.ID,
		CurrentAgent:    s.CurrentAgent,
		Chain:           chain,
		Context:         sessionCtx,
		HandoffsEnabled: s.HandoffsEnabled,
		Domain:          string(s.Domain),
		Confidence:      s.Confidence,
		Status:          s.Status,
		UpdatedAt:       time.Now(),
	}, nil
}

// sessionFromRecord restores a session from its durable form.
func sessionFromRecord(rec *store.SessionRecord) (*Session, error) {
	s := &Session{
		ID:              rec.ID,
		CurrentAgent:    rec.CurrentAgent,
		Context:         make(map[string]string),
		HandoffsEnabled: rec.HandoffsEnabled,
		Domain:          Domain(rec.Domain),
		Confidence:      rec.Confidence,
		Status:          rec.Status,
	}
	if len(rec.Chain) > 0 {
		var chain handoff.Chain
		if err := json.Unmarshal(rec.Chain, &chain); err != nil {
			return nil, types.NewError(types.ErrInternalError, "stored session chain is corrupt").WithCause(err)
		}
		s.Chain = &chain
	}
	if len(rec.Context) > 0 {
		if err := json.Unmarshal(rec.Context, &s.Context); err != nil {
			return nil, types.NewError(types.ErrInternalError, "stored session context is corrupt").WithCause(err)
		}
	}
	return s, nil
}

// save persists the session. Called on every mutation.
func (s *Session) save(ctx context.Context, sessions store.SessionStore) error {
	rec, err := s.record()
	if err != nil {
		return err
	}
	return sessions.Save(ctx, rec)
}
