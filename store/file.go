package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSessionStore is a file-based SessionStore. One JSON file per session
// under <base>/sessions.
type FileSessionStore struct {
	baseDir string
	mu      sync.Mutex
	closed  bool
}

// NewFileSessionStore creates a file-based session store.
func NewFileSessionStore(config Config) (*FileSessionStore, error) {
	baseDir := filepath.Join(config.BaseDir, "sessions")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session store directory: %w", err)
	}
	return &FileSessionStore{baseDir: baseDir}, nil
}

func (s *FileSessionStore) path(sessionID string) string {
	return filepath.Join(s.baseDir, sanitizeID(sessionID)+".json")
}

// Save implements SessionStore. The record is written to a temp file and
// renamed so readers never observe a partial write.
func (s *FileSessionStore) Save(_ context.Context, rec *SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.ID, err)
	}
	tmp := s.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(rec.ID))
}

// Get implements SessionStore.
func (s *FileSessionStore) Get(_ context.Context, sessionID string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// Delete implements SessionStore.
func (s *FileSessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	err := os.Remove(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close implements SessionStore.
func (s *FileSessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FileArchiveStore is a file-based ArchiveStore. One append-only JSONL file
// per session under <base>/archive; a record per line, never rewritten.
type FileArchiveStore struct {
	baseDir string
	mu      sync.Mutex
	// seen tracks (session, index) pairs already on disk so appends stay
	// idempotent without rescanning the file on every write.
	seen   map[string]map[int]struct{}
	closed bool
}

// NewFileArchiveStore creates a file-based archive store.
func NewFileArchiveStore(config Config) (*FileArchiveStore, error) {
	baseDir := filepath.Join(config.BaseDir, "archive")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &FileArchiveStore{
		baseDir: baseDir,
		seen:    make(map[string]map[int]struct{}),
	}, nil
}

func (s *FileArchiveStore) path(sessionID string) string {
	return filepath.Join(s.baseDir, sanitizeID(sessionID)+".jsonl")
}

// loadIndex populates the seen set for a session from disk.
func (s *FileArchiveStore) loadIndex(sessionID string) (map[int]struct{}, error) {
	if idx, ok := s.seen[sessionID]; ok {
		return idx, nil
	}
	idx := make(map[int]struct{})
	s.seen[sessionID] = idx

	turns, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	for _, t := range turns {
		idx[t.Index] = struct{}{}
	}
	return idx, nil
}

func (s *FileArchiveStore) read(sessionID string) ([]ArchivedTurn, error) {
	f, err := os.Open(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var turns []ArchivedTurn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t ArchivedTurn
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			return nil, fmt.Errorf("corrupt archive line for session %s: %w", sessionID, err)
		}
		turns = append(turns, t)
	}
	return turns, scanner.Err()
}

// Append implements ArchiveStore.
func (s *FileArchiveStore) Append(_ context.Context, turns []ArchivedTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	// Group by session to open each file once.
	bySession := make(map[string][]ArchivedTurn)
	for _, t := range turns {
		if t.SessionID == "" {
			return ErrInvalidInput
		}
		bySession[t.SessionID] = append(bySession[t.SessionID], t)
	}

	for sessionID, batch := range bySession {
		idx, err := s.loadIndex(sessionID)
		if err != nil {
			return err
		}

		f, err := os.OpenFile(s.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(f)
		for _, t := range batch {
			if _, exists := idx[t.Index]; exists {
				continue
			}
			line, err := json.Marshal(t)
			if err != nil {
				f.Close()
				return err
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				f.Close()
				return err
			}
			idx[t.Index] = struct{}{}
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Get implements ArchiveStore.
func (s *FileArchiveStore) Get(_ context.Context, sessionID string, index int) (*ArchivedTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	turns, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	for _, t := range turns {
		if t.Index == index {
			out := t
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// List implements ArchiveStore.
func (s *FileArchiveStore) List(_ context.Context, sessionID string) ([]ArchivedTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.read(sessionID)
}

// Close implements ArchiveStore.
func (s *FileArchiveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FileCheckpointStore persists checkpoints as one JSONL file per chain;
// the latest line is the newest version.
type FileCheckpointStore struct {
	baseDir string
	mu      sync.Mutex
	closed  bool
}

// NewFileCheckpointStore creates a file-based checkpoint store.
func NewFileCheckpointStore(config Config) (*FileCheckpointStore, error) {
	baseDir := filepath.Join(config.BaseDir, "checkpoints")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{baseDir: baseDir}, nil
}

func (s *FileCheckpointStore) path(chainID string) string {
	return filepath.Join(s.baseDir, sanitizeID(chainID)+".jsonl")
}

// Save implements CheckpointStore.
func (s *FileCheckpointStore) Save(_ context.Context, rec *CheckpointRecord) error {
	if rec == nil || rec.ChainID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	f, err := os.OpenFile(s.path(rec.ChainID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// Latest implements CheckpointStore.
func (s *FileCheckpointStore) Latest(_ context.Context, chainID string) (*CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	f, err := os.Open(s.path(chainID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if last == "" {
		return nil, ErrNotFound
	}
	var rec CheckpointRecord
	if err := json.Unmarshal([]byte(last), &rec); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint for chain %s: %w", chainID, err)
	}
	return &rec, nil
}

// Close implements CheckpointStore.
func (s *FileCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FileAuditLog is an append-only JSONL audit log.
type FileAuditLog struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	closed bool
}

// NewFileAuditLog opens (or creates) the audit log file under the base dir.
func NewFileAuditLog(config Config) (*FileAuditLog, error) {
	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	path := filepath.Join(config.BaseDir, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileAuditLog{f: f, w: bufio.NewWriter(f)}, nil
}

// Append implements AuditLog. Each event is flushed immediately so the log
// survives a crash.
func (l *FileAuditLog) Append(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrStoreClosed
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return l.w.Flush()
}

// Close implements AuditLog.
func (l *FileAuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// sanitizeID makes a session id safe for use as a file name.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
