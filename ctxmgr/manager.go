// Package ctxmgr maintains a session's working context under a token
// budget. When usage crosses the compression threshold the oldest turns are
// archived verbatim and replaced with a single synthesized summary turn, so
// the live window is lossy while the archive keeps every original.
package ctxmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/velsin/swarmflow/internal/metrics"
	"github.com/velsin/swarmflow/store"
	"github.com/velsin/swarmflow/tokenizer"
	"github.com/velsin/swarmflow/types"
)

// Defaults applied by NewManager when the config leaves fields zero.
const (
	DefaultMaxTokens         = 8000
	DefaultCompressThreshold = 0.8
	DefaultKeepRecent        = 6
)

// turnOverheadTokens approximates per-turn framing cost on the wire.
const turnOverheadTokens = 4

// Config tunes the context manager.
type Config struct {
	// MaxTokens is the working-memory budget.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// CompressThreshold is the usage fraction that triggers compression.
	CompressThreshold float64 `json:"compress_threshold" yaml:"compress_threshold"`
	// KeepRecent turns are never compressed away.
	KeepRecent int `json:"keep_recent" yaml:"keep_recent"`
}

// DefaultConfig returns the default context settings.
func DefaultConfig() Config {
	return Config{
		MaxTokens:         DefaultMaxTokens,
		CompressThreshold: DefaultCompressThreshold,
		KeepRecent:        DefaultKeepRecent,
	}
}

// Stats reports the manager's compression history.
type Stats struct {
	TurnsTotal       int     `json:"turns_total"`
	TurnsArchived    int     `json:"turns_archived"`
	Compressions     int64   `json:"compressions"`
	CompressionRatio float64 `json:"compression_ratio"`
	TokensLive       int     `json:"tokens_live"`
}

// Manager owns one session's live context window.
type Manager struct {
	sessionID  string
	config     Config
	counter    tokenizer.Counter
	archive    store.ArchiveStore
	summarizer Summarizer
	logger     *zap.Logger
	audit      store.AuditLog
	collector  *metrics.Collector

	mu        sync.Mutex
	turns     []types.Turn
	nextIndex int
	stats     Stats
}

// ManagerOption configures optional manager collaborators.
type ManagerOption func(*Manager)

// WithAuditLog records a compression event for every compression.
func WithAuditLog(audit store.AuditLog) ManagerOption {
	return func(m *Manager) { m.audit = audit }
}

// WithCollector reports compression metrics.
func WithCollector(collector *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.collector = collector }
}

// NewManager creates a context manager for one session. counter may be nil
// (the generic estimator is used); summarizer may be nil (the extractive
// fallback is used); archive is required.
func NewManager(sessionID string, config Config, counter tokenizer.Counter, archive store.ArchiveStore, summarizer Summarizer, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.CompressThreshold <= 0 || config.CompressThreshold > 1 {
		config.CompressThreshold = DefaultCompressThreshold
	}
	if config.KeepRecent <= 0 {
		config.KeepRecent = DefaultKeepRecent
	}
	if counter == nil {
		counter = tokenizer.NewEstimatorCounter("")
	}
	if summarizer == nil {
		summarizer = NewExtractiveSummarizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessionID:  sessionID,
		config:     config,
		counter:    counter,
		archive:    archive,
		summarizer: summarizer,
		logger:     logger.With(zap.String("component", "ctxmgr"), zap.String("session_id", sessionID)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddTurn appends a turn to the live window, assigning the next monotonic
// index, and compresses when usage crosses the threshold.
func (m *Manager) AddTurn(ctx context.Context, role types.Role, agentID, content string, metadata map[string]string) (types.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turn := types.Turn{
		Index:     m.nextIndex,
		Role:      role,
		Content:   content,
		AgentID:   agentID,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
	m.nextIndex++
	m.turns = append(m.turns, turn)
	m.stats.TurnsTotal++

	if m.usageLocked() >= m.config.CompressThreshold {
		if err := m.compressLocked(ctx); err != nil {
			return turn, err
		}
	}
	return turn, nil
}

// Usage returns the live window's fraction of the token budget.
func (m *Manager) Usage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usageLocked()
}

// Compress archives the oldest compressible turns and replaces them with a
// summary turn. Calling it again with no new turns is a no-op.
func (m *Manager) Compress(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compressLocked(ctx)
}

// LiveView returns a copy of the current window: at most one leading
// summary turn followed by the recent originals.
func (m *Manager) LiveView() []types.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Archived retrieves one original turn from the archive by index.
func (m *Manager) Archived(ctx context.Context, index int) (*store.ArchivedTurn, error) {
	return m.archive.Get(ctx, m.sessionID, index)
}

// ArchivedAll lists every archived turn for the session in index order.
func (m *Manager) ArchivedAll(ctx context.Context) ([]store.ArchivedTurn, error) {
	return m.archive.List(ctx, m.sessionID)
}

// Stats returns a snapshot of the compression statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.TokensLive = m.tokensLocked()
	return s
}

func (m *Manager) usageLocked() float64 {
	if m.config.MaxTokens == 0 {
		return 0
	}
	return float64(m.tokensLocked()) / float64(m.config.MaxTokens)
}

func (m *Manager) tokensLocked() int {
	total := 0
	for _, t := range m.turns {
		n, err := m.counter.CountTokens(t.Content)
		if err != nil {
			n = len(t.Content) / 4
		}
		total += n + turnOverheadTokens
	}
	return total
}

// compressLocked does the actual work under m.mu. The block to fold away is
// everything before the KeepRecent tail, minus any leading summary turn,
// which is folded into the new summary instead of being archived.
func (m *Manager) compressLocked(ctx context.Context) error {
	previousSummary := ""
	body := m.turns
	if len(body) > 0 && body[0].Role == types.RoleSummary {
		previousSummary = body[0].Content
		body = body[1:]
	}

	if len(body) <= m.config.KeepRecent {
		// Nothing compressible: idempotent no-op.
		return nil
	}
	block := body[:len(body)-m.config.KeepRecent]
	recent := body[len(body)-m.config.KeepRecent:]

	tokensBefore := m.tokensLocked()

	archived := make([]store.ArchivedTurn, 0, len(block))
	now := time.Now()
	for _, t := range block {
		archived = append(archived, store.ArchivedTurn{
			SessionID:  m.sessionID,
			Index:      t.Index,
			Role:       string(t.Role),
			Content:    t.Content,
			AgentID:    t.AgentID,
			ArchivedAt: now,
		})
	}
	if err := m.archive.Append(ctx, archived); err != nil {
		return types.NewError(types.ErrInternalError, "archiving context turns failed").
			WithCause(err).WithClass(types.ClassTransient)
	}

	summary, err := m.summarizer.Summarize(ctx, previousSummary, block)
	if err != nil {
		m.logger.Warn("summarizer failed, using extractive fallback", zap.Error(err))
		summary, _ = NewExtractiveSummarizer().Summarize(ctx, previousSummary, block)
	}

	summaryTurn := types.Turn{
		Index:     block[len(block)-1].Index,
		Role:      types.RoleSummary,
		Content:   summary,
		Metadata:  map[string]string{"turns_summarized": fmt.Sprintf("%d", len(block))},
		Timestamp: now,
	}

	window := make([]types.Turn, 0, 1+len(recent))
	window = append(window, summaryTurn)
	window = append(window, recent...)
	m.turns = window

	tokensAfter := m.tokensLocked()
	m.stats.TurnsArchived += len(block)
	m.stats.Compressions++
	if tokensBefore > 0 {
		m.stats.CompressionRatio = float64(tokensAfter) / float64(tokensBefore)
	}

	if m.collector != nil {
		m.collector.RecordCompression(len(block), m.stats.CompressionRatio)
	}
	m.recordCompressionLocked(ctx, len(block), tokensBefore, tokensAfter)

	m.logger.Info("context compressed",
		zap.Int("turns_archived", len(block)),
		zap.Int("tokens_before", tokensBefore),
		zap.Int("tokens_after", tokensAfter))
	return nil
}

// recordCompressionLocked appends a compression event to the audit log.
// Audit failures are logged, never surfaced: compression already happened.
func (m *Manager) recordCompressionLocked(ctx context.Context, turnsArchived, tokensBefore, tokensAfter int) {
	if m.audit == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"turns_archived": turnsArchived,
		"tokens_before":  tokensBefore,
		"tokens_after":   tokensAfter,
		"ratio":          m.stats.CompressionRatio,
	})
	if err != nil {
		return
	}
	event := store.AuditEvent{
		Timestamp: time.Now(),
		SessionID: m.sessionID,
		Type:      store.EventCompression,
		Payload:   payload,
	}
	if err := m.audit.Append(ctx, event); err != nil {
		m.logger.Warn("compression audit append failed", zap.Error(err))
	}
}
