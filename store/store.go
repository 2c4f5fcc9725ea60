// Package store provides persistent storage interfaces and implementations
// for sessions, archived context turns, execution checkpoints and the audit
// log.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - File: for single-node production deployments
//   - Redis: for distributed production deployments
//   - SQLite: durable archive storage with concurrent-append safety
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Type represents the type of storage backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeRedis  Type = "redis"
	TypeSQLite Type = "sqlite"
)

// SessionRecord is the durable form of a coordinator session. Chain and
// Context are kept opaque so the store stays free of engine dependencies.
type SessionRecord struct {
	ID              string          `json:"id"`
	CurrentAgent    string          `json:"current_agent"`
	Chain           json.RawMessage `json:"chain,omitempty"`
	Context         json.RawMessage `json:"context,omitempty"`
	HandoffsEnabled bool            `json:"handoffs_enabled"`
	Domain          string          `json:"domain,omitempty"`
	Confidence      float64         `json:"confidence,omitempty"`
	Status          string          `json:"status"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ArchivedTurn is one verbatim context turn written to the archive. The
// (SessionID, Index) pair is unique; appends are idempotent on it.
type ArchivedTurn struct {
	SessionID  string    `json:"session_id"`
	Index      int       `json:"index"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	AgentID    string    `json:"agent_id,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
}

// CheckpointRecord captures chain execution progress for resume-from-failure.
type CheckpointRecord struct {
	ID             string                     `json:"id"`
	ChainID        string                     `json:"chain_id"`
	WorkflowName   string                     `json:"workflow_name"`
	Version        int                        `json:"version"`
	CompletedSteps []string                   `json:"completed_steps"`
	Outputs        map[string]json.RawMessage `json:"outputs"`
	CreatedAt      time.Time                  `json:"created_at"`
}

// AuditEvent is one append-only audit log record.
type AuditEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Audit event types emitted by the engine.
const (
	EventHandoff         = "handoff"
	EventHandoffRejected = "handoff_rejected"
	EventSubtaskDone     = "subtask_completed"
	EventRetry           = "retry"
	EventCompression     = "compression"
	EventSessionStart    = "session_start"
	EventSessionEnd      = "session_end"
)

// SessionStore persists one durable record per session, written on every
// mutation and read on session resume.
type SessionStore interface {
	Save(ctx context.Context, rec *SessionRecord) error
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// ArchiveStore is the append-only archive for compressed-out context turns.
// Appends keyed by (session id, turn index) must be idempotent so concurrent
// sessions can write without coordination.
type ArchiveStore interface {
	Append(ctx context.Context, turns []ArchivedTurn) error
	Get(ctx context.Context, sessionID string, index int) (*ArchivedTurn, error)
	List(ctx context.Context, sessionID string) ([]ArchivedTurn, error)
	Close() error
}

// CheckpointStore persists chain execution checkpoints.
type CheckpointStore interface {
	Save(ctx context.Context, rec *CheckpointRecord) error
	Latest(ctx context.Context, chainID string) (*CheckpointRecord, error)
	Close() error
}

// AuditLog is the append-only event log consumed by external reporting.
type AuditLog interface {
	Append(ctx context.Context, event AuditEvent) error
	Close() error
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// Config is the base configuration for all store implementations.
type Config struct {
	// Type is the storage backend type.
	Type Type `yaml:"type" json:"type"`

	// BaseDir is the base directory for file-based storage.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// SQLitePath is the database path for the sqlite archive backend.
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`

	// Redis configuration (only used when Type is "redis").
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// sortArchivedTurns orders turns by index in place.
func sortArchivedTurns(turns []ArchivedTurn) {
	sort.Slice(turns, func(i, j int) bool { return turns[i].Index < turns[j].Index })
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Type:       TypeMemory,
		BaseDir:    "./data/swarmflow",
		SQLitePath: "./data/swarmflow/archive.db",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "swarmflow:",
		},
	}
}
