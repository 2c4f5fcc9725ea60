package handoff

import (
	"fmt"
	"time"

	"github.com/velsin/swarmflow/types"
)

// DefaultMaxDepth bounds how many handoffs one session may perform.
const DefaultMaxDepth = 5

// DefaultLookback is the window in which a returning agent id is treated as
// a behavioral cycle.
const DefaultLookback = 3

// Entry is one recorded handoff.
type Entry struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"timestamp"`
}

// ChainConfig tunes chain validation.
type ChainConfig struct {
	// MaxDepth is the hard limit on recorded handoffs.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
	// Lookback is how many trailing entries are scanned for a returning
	// agent id.
	Lookback int `json:"lookback" yaml:"lookback"`
	// AllowReentry disables the lookback cycle check (A→B→A becomes legal).
	AllowReentry bool `json:"allow_reentry" yaml:"allow_reentry"`
}

// DefaultChainConfig returns the default validation settings.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		MaxDepth: DefaultMaxDepth,
		Lookback: DefaultLookback,
	}
}

// Chain records the ordered handoff history of one session. Append-only;
// one chain per active session, created at session start and archived at
// session end.
type Chain struct {
	SessionID string      `json:"session_id"`
	Start     string      `json:"start_agent"`
	Entries   []Entry     `json:"entries"`
	Config    ChainConfig `json:"config"`
}

// NewChain creates a chain rooted at the session's initial agent.
func NewChain(sessionID, startAgent string, config ChainConfig) *Chain {
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	if config.Lookback <= 0 {
		config.Lookback = DefaultLookback
	}
	return &Chain{
		SessionID: sessionID,
		Start:     startAgent,
		Config:    config,
	}
}

// Depth equals the number of recorded entries.
func (c *Chain) Depth() int {
	return len(c.Entries)
}

// Current returns the agent currently holding control.
func (c *Chain) Current() string {
	if len(c.Entries) == 0 {
		return c.Start
	}
	return c.Entries[len(c.Entries)-1].To
}

// ValidateAndAppend checks a handoff request against the chain invariants
// and, when legal, records it. targets must be the registry's declared
// collaborator set for the current agent. On rejection the chain is left
// unchanged; rejections are structural errors the caller must treat as
// terminal for the swarm session.
func (c *Chain) ValidateAndAppend(req *Request, targets map[string]struct{}) error {
	from := c.Current()

	if _, ok := targets[req.Target]; !ok {
		return types.NewError(types.ErrUnknownTarget,
			fmt.Sprintf("agent %s is not a declared collaborator of %s", req.Target, from))
	}

	if c.Depth()+1 > c.Config.MaxDepth {
		return types.NewError(types.ErrDepthExceeded,
			fmt.Sprintf("handoff depth limit %d reached", c.Config.MaxDepth))
	}

	// Adjacent repeat is a degenerate no-op regardless of reentry settings.
	if req.Target == from {
		return types.NewError(types.ErrCircularHandoff,
			fmt.Sprintf("agent %s attempted a self-handoff", from))
	}

	if !c.Config.AllowReentry {
		// A target that appears anywhere in the lookback window, as source
		// or destination, is a behavioral cycle. This covers the immediate
		// A→B→A case: the first entry records A as From.
		for _, e := range c.tail(c.Config.Lookback) {
			if e.To == req.Target || e.From == req.Target {
				return types.NewError(types.ErrCircularHandoff,
					fmt.Sprintf("agent %s already appears in the last %d handoffs", req.Target, c.Config.Lookback))
			}
		}
	}

	c.Entries = append(c.Entries, Entry{
		From:   from,
		To:     req.Target,
		Reason: req.Reason,
		At:     time.Now(),
	})
	return nil
}

// tail returns the last n entries (fewer when the chain is shorter).
func (c *Chain) tail(n int) []Entry {
	if n >= len(c.Entries) {
		return c.Entries
	}
	return c.Entries[len(c.Entries)-n:]
}
