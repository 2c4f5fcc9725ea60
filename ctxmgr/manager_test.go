package ctxmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velsin/swarmflow/store"
	"github.com/velsin/swarmflow/types"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *store.MemoryArchiveStore) {
	t.Helper()
	archive := store.NewMemoryArchiveStore()
	m := NewManager("sess-1", cfg, nil, archive, nil, nil)
	return m, archive
}

func fill(t *testing.T, m *Manager, n int, size int) {
	t.Helper()
	for i := 0; i < n; i++ {
		content := strings.Repeat("w ", size/2)
		_, err := m.AddTurn(context.Background(), types.RoleUser, "", fmt.Sprintf("turn %d %s", i, content), nil)
		require.NoError(t, err)
	}
}

func TestManager_AssignsMonotonicIndexes(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, DefaultConfig())

	a, err := m.AddTurn(context.Background(), types.RoleUser, "", "hello", nil)
	require.NoError(t, err)
	b, err := m.AddTurn(context.Background(), types.RoleAgent, "triage", "hi", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, a.Index)
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, "triage", b.AgentID)
}

func TestManager_CompressArchivesOldestBlock(t *testing.T) {
	t.Parallel()
	m, archive := newTestManager(t, Config{MaxTokens: 200, CompressThreshold: 0.99, KeepRecent: 2})
	fill(t, m, 6, 40)

	require.NoError(t, m.Compress(context.Background()))

	view := m.LiveView()
	require.NotEmpty(t, view)
	assert.Equal(t, types.RoleSummary, view[0].Role)
	assert.Len(t, view, 3) // summary + 2 recent

	archived, err := archive.List(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, archived, 4)
	assert.Equal(t, 0, archived[0].Index)
}

func TestManager_ArchivedTurnsAreVerbatim(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Config{MaxTokens: 100, CompressThreshold: 0.99, KeepRecent: 1})

	original := "exact   whitespace\tand unicode 你好 stay intact"
	_, err := m.AddTurn(context.Background(), types.RoleAgent, "net", original, nil)
	require.NoError(t, err)
	fill(t, m, 3, 20)

	require.NoError(t, m.Compress(context.Background()))

	got, err := m.Archived(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, original, got.Content)
	assert.Equal(t, "net", got.AgentID)
	assert.Equal(t, string(types.RoleAgent), got.Role)
}

func TestManager_CompressIdempotentWithNoNewTurns(t *testing.T) {
	t.Parallel()
	m, archive := newTestManager(t, Config{MaxTokens: 200, CompressThreshold: 0.99, KeepRecent: 2})
	fill(t, m, 5, 40)

	require.NoError(t, m.Compress(context.Background()))
	viewAfterFirst := m.LiveView()
	archivedAfterFirst, err := archive.List(context.Background(), "sess-1")
	require.NoError(t, err)

	require.NoError(t, m.Compress(context.Background()))
	viewAfterSecond := m.LiveView()
	archivedAfterSecond, err := archive.List(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Equal(t, viewAfterFirst, viewAfterSecond)
	assert.Equal(t, archivedAfterFirst, archivedAfterSecond)
}

func TestManager_AutoCompressOnThreshold(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Config{MaxTokens: 120, CompressThreshold: 0.5, KeepRecent: 2})

	// Enough content to push usage over 50% of a 120-token budget.
	fill(t, m, 8, 60)

	view := m.LiveView()
	require.NotEmpty(t, view)
	assert.Equal(t, types.RoleSummary, view[0].Role)

	stats := m.Stats()
	assert.Greater(t, stats.TurnsArchived, 0)
	assert.GreaterOrEqual(t, stats.Compressions, int64(1))
	assert.Greater(t, stats.CompressionRatio, 0.0)
	assert.Less(t, stats.CompressionRatio, 1.0)
}

func TestManager_SecondCompressionFoldsPriorSummary(t *testing.T) {
	t.Parallel()
	m, archive := newTestManager(t, Config{MaxTokens: 10000, CompressThreshold: 0.99, KeepRecent: 1})

	_, err := m.AddTurn(context.Background(), types.RoleUser, "", "first fact. details follow", nil)
	require.NoError(t, err)
	fill(t, m, 2, 20)
	require.NoError(t, m.Compress(context.Background()))

	fill(t, m, 2, 20)
	require.NoError(t, m.Compress(context.Background()))

	view := m.LiveView()
	require.Len(t, view, 2)
	assert.Equal(t, types.RoleSummary, view[0].Role)
	assert.Contains(t, view[0].Content, "first fact.")

	// The summary turn itself is never archived.
	archived, err := archive.List(context.Background(), "sess-1")
	require.NoError(t, err)
	for _, a := range archived {
		assert.NotEqual(t, string(types.RoleSummary), a.Role)
	}
}

func TestManager_KeepRecentNeverCompressed(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Config{MaxTokens: 100, CompressThreshold: 0.99, KeepRecent: 3})
	fill(t, m, 5, 30)

	require.NoError(t, m.Compress(context.Background()))

	view := m.LiveView()
	require.Len(t, view, 4)
	assert.Equal(t, "turn 2", view[1].Content[:6])
	assert.Equal(t, "turn 3", view[2].Content[:6])
	assert.Equal(t, "turn 4", view[3].Content[:6])
}

func TestManager_CompressionEmitsAuditEvent(t *testing.T) {
	t.Parallel()
	archive := store.NewMemoryArchiveStore()
	audit := store.NewMemoryAuditLog()
	m := NewManager("sess-1", Config{MaxTokens: 200, CompressThreshold: 0.99, KeepRecent: 2}, nil, archive, nil, nil,
		WithAuditLog(audit))
	fill(t, m, 6, 40)

	require.NoError(t, m.Compress(context.Background()))

	events := audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, store.EventCompression, events[0].Type)
	assert.Equal(t, "sess-1", events[0].SessionID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, float64(4), payload["turns_archived"])
	assert.Greater(t, payload["tokens_before"], payload["tokens_after"])

	// An idempotent no-op compression emits nothing.
	require.NoError(t, m.Compress(context.Background()))
	assert.Len(t, audit.Events(), 1)
}

func TestExtractiveSummarizer_Deterministic(t *testing.T) {
	t.Parallel()
	s := NewExtractiveSummarizer()
	turns := []types.Turn{
		{Role: types.RoleUser, Content: "Check the database. It seems slow."},
		{Role: types.RoleAgent, Content: "Latency is 900ms on replica two."},
	}

	first, err := s.Summarize(context.Background(), "", turns)
	require.NoError(t, err)
	second, err := s.Summarize(context.Background(), "", turns)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "[user] Check the database.")
	assert.Contains(t, first, "[agent] Latency is 900ms on replica two.")
}
