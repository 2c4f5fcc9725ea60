package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteArchive(t *testing.T) *SQLiteArchiveStore {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "archive.db")
	s, err := NewSQLiteArchiveStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteArchiveStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := sqliteArchive(t)

	turns := []ArchivedTurn{
		{SessionID: "s1", Index: 0, Role: "user", Content: "hello", ArchivedAt: time.Now().UTC()},
		{SessionID: "s1", Index: 1, Role: "agent", Content: "world", AgentID: "planner"},
		{SessionID: "s2", Index: 0, Role: "user", Content: "other session"},
	}
	require.NoError(t, s.Append(ctx, turns))

	got, err := s.Get(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "world", got.Content)
	assert.Equal(t, "planner", got.AgentID)

	all, err := s.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].Index)
	assert.Equal(t, 1, all[1].Index)
}

func TestSQLiteArchiveStore_IdempotentAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := sqliteArchive(t)

	turn := ArchivedTurn{SessionID: "s1", Index: 0, Content: "original"}
	require.NoError(t, s.Append(ctx, []ArchivedTurn{turn}))

	dup := turn
	dup.Content = "overwrite attempt"
	require.NoError(t, s.Append(ctx, []ArchivedTurn{dup}))

	all, err := s.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "original", all[0].Content)
}

func TestSQLiteArchiveStore_GetMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := sqliteArchive(t)

	_, err := s.Get(ctx, "nope", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteArchiveStore_EmptyAppend(t *testing.T) {
	t.Parallel()
	s := sqliteArchive(t)
	assert.NoError(t, s.Append(context.Background(), nil))
}
