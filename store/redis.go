package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// newRedisClient builds a client from config and verifies connectivity.
func newRedisClient(config Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func keyPrefix(config Config) string {
	if config.Redis.KeyPrefix != "" {
		return config.Redis.KeyPrefix
	}
	return "swarmflow:"
}

// RedisSessionStore is a Redis-backed SessionStore for distributed
// deployments.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionStore creates a Redis session store.
func NewRedisSessionStore(config Config) (*RedisSessionStore, error) {
	client, err := newRedisClient(config)
	if err != nil {
		return nil, err
	}
	return &RedisSessionStore{client: client, prefix: keyPrefix(config) + "session:"}, nil
}

// Save implements SessionStore.
func (s *RedisSessionStore) Save(ctx context.Context, rec *SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.ID, err)
	}
	return s.client.Set(ctx, s.prefix+rec.ID, data, 0).Err()
}

// Get implements SessionStore.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := s.client.Get(ctx, s.prefix+sessionID).Bytes()
	if err == redis.Nil {
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
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.prefix+sessionID).Err()
}

// Close implements SessionStore.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// RedisArchiveStore is a Redis-backed ArchiveStore. Turns live in a hash per
// session keyed by turn index; HSETNX keeps appends idempotent.
type RedisArchiveStore struct {
	client *redis.Client
	prefix string
}

// NewRedisArchiveStore creates a Redis archive store.
func NewRedisArchiveStore(config Config) (*RedisArchiveStore, error) {
	client, err := newRedisClient(config)
	if err != nil {
		return nil, err
	}
	return &RedisArchiveStore{client: client, prefix: keyPrefix(config) + "archive:"}, nil
}

func (s *RedisArchiveStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Append implements ArchiveStore.
func (s *RedisArchiveStore) Append(ctx context.Context, turns []ArchivedTurn) error {
	pipe := s.client.Pipeline()
	for _, t := range turns {
		if t.SessionID == "" {
			return ErrInvalidInput
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		pipe.HSetNX(ctx, s.key(t.SessionID), fmt.Sprintf("%d", t.Index), data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get implements ArchiveStore.
func (s *RedisArchiveStore) Get(ctx context.Context, sessionID string, index int) (*ArchivedTurn, error) {
	data, err := s.client.HGet(ctx, s.key(sessionID), fmt.Sprintf("%d", index)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t ArchivedTurn
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal archived turn %s/%d: %w", sessionID, index, err)
	}
	return &t, nil
}

// List implements ArchiveStore.
func (s *RedisArchiveStore) List(ctx context.Context, sessionID string) ([]ArchivedTurn, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	turns := make([]ArchivedTurn, 0, len(fields))
	for _, raw := range fields {
		var t ArchivedTurn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("unmarshal archived turn for %s: %w", sessionID, err)
		}
		turns = append(turns, t)
	}
	sortArchivedTurns(turns)
	return turns, nil
}

// Close implements ArchiveStore.
func (s *RedisArchiveStore) Close() error {
	return s.client.Close()
}

// RedisCheckpointStore is a Redis-backed CheckpointStore. Checkpoints are
// RPUSHed onto a per-chain list; Latest reads the tail.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCheckpointStore creates a Redis checkpoint store.
func NewRedisCheckpointStore(config Config) (*RedisCheckpointStore, error) {
	client, err := newRedisClient(config)
	if err != nil {
		return nil, err
	}
	return &RedisCheckpointStore{client: client, prefix: keyPrefix(config) + "checkpoint:"}, nil
}

// Save implements CheckpointStore.
func (s *RedisCheckpointStore) Save(ctx context.Context, rec *CheckpointRecord) error {
	if rec == nil || rec.ChainID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.prefix+rec.ChainID, data).Err()
}

// Latest implements CheckpointStore.
func (s *RedisCheckpointStore) Latest(ctx context.Context, chainID string) (*CheckpointRecord, error) {
	data, err := s.client.LIndex(ctx, s.prefix+chainID, -1).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec CheckpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint for %s: %w", chainID, err)
	}
	return &rec, nil
}

// Close implements CheckpointStore.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

// RedisAuditLog appends audit events to a per-session Redis list.
type RedisAuditLog struct {
	client *redis.Client
	prefix string
}

// NewRedisAuditLog creates a Redis audit log.
func NewRedisAuditLog(config Config) (*RedisAuditLog, error) {
	client, err := newRedisClient(config)
	if err != nil {
		return nil, err
	}
	return &RedisAuditLog{client: client, prefix: keyPrefix(config) + "audit:"}, nil
}

// Append implements AuditLog.
func (l *RedisAuditLog) Append(ctx context.Context, event AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return l.client.RPush(ctx, l.prefix+event.SessionID, data).Err()
}

// Close implements AuditLog.
func (l *RedisAuditLog) Close() error {
	return l.client.Close()
}
