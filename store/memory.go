package store

import (
	"context"
	"sort"
	"sync"
)

// MemorySessionStore is an in-memory SessionStore for development and tests.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
	closed   bool
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

// Save implements SessionStore.
func (s *MemorySessionStore) Save(_ context.Context, rec *SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.sessions[rec.ID] = *rec
	return nil
}

// Get implements SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

// Delete implements SessionStore.
func (s *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.sessions, sessionID)
	return nil
}

// Close implements SessionStore.
func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MemoryArchiveStore is an in-memory ArchiveStore.
type MemoryArchiveStore struct {
	mu     sync.RWMutex
	turns  map[string]map[int]ArchivedTurn // sessionID -> index -> turn
	closed bool
}

// NewMemoryArchiveStore creates an in-memory archive store.
func NewMemoryArchiveStore() *MemoryArchiveStore {
	return &MemoryArchiveStore{turns: make(map[string]map[int]ArchivedTurn)}
}

// Append implements ArchiveStore. Re-appending an existing (session, index)
// pair is a no-op, which keeps compression idempotent.
func (s *MemoryArchiveStore) Append(_ context.Context, turns []ArchivedTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for _, t := range turns {
		if t.SessionID == "" {
			return ErrInvalidInput
		}
		byIndex, ok := s.turns[t.SessionID]
		if !ok {
			byIndex = make(map[int]ArchivedTurn)
			s.turns[t.SessionID] = byIndex
		}
		if _, exists := byIndex[t.Index]; exists {
			continue
		}
		byIndex[t.Index] = t
	}
	return nil
}

// Get implements ArchiveStore.
func (s *MemoryArchiveStore) Get(_ context.Context, sessionID string, index int) (*ArchivedTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	t, ok := s.turns[sessionID][index]
	if !ok {
		return nil, ErrNotFound
	}
	out := t
	return &out, nil
}

// List implements ArchiveStore, returning turns ordered by index.
func (s *MemoryArchiveStore) List(_ context.Context, sessionID string) ([]ArchivedTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	byIndex := s.turns[sessionID]
	out := make([]ArchivedTurn, 0, len(byIndex))
	for _, t := range byIndex {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Close implements ArchiveStore.
func (s *MemoryArchiveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MemoryCheckpointStore is an in-memory CheckpointStore.
type MemoryCheckpointStore struct {
	mu     sync.RWMutex
	byID   map[string][]CheckpointRecord // chainID -> versions in append order
	closed bool
}

// NewMemoryCheckpointStore creates an in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{byID: make(map[string][]CheckpointRecord)}
}

// Save implements CheckpointStore.
func (s *MemoryCheckpointStore) Save(_ context.Context, rec *CheckpointRecord) error {
	if rec == nil || rec.ChainID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.byID[rec.ChainID] = append(s.byID[rec.ChainID], *rec)
	return nil
}

// Latest implements CheckpointStore.
func (s *MemoryCheckpointStore) Latest(_ context.Context, chainID string) (*CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	versions := s.byID[chainID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	out := versions[len(versions)-1]
	return &out, nil
}

// Close implements CheckpointStore.
func (s *MemoryCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MemoryAuditLog is an in-memory AuditLog, mostly useful in tests.
type MemoryAuditLog struct {
	mu     sync.RWMutex
	events []AuditEvent
	closed bool
}

// NewMemoryAuditLog creates an in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Append implements AuditLog.
func (l *MemoryAuditLog) Append(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrStoreClosed
	}
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (l *MemoryAuditLog) Events() []AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Close implements AuditLog.
func (l *MemoryAuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
