package store

import "fmt"

// Stores bundles the four stores a running engine needs.
type Stores struct {
	Sessions    SessionStore
	Archive     ArchiveStore
	Checkpoints CheckpointStore
	Audit       AuditLog
}

// Open builds the store bundle for the configured backend type. The sqlite
// type applies to the archive only; sessions, checkpoints and the audit log
// use file storage alongside it, matching a single-host deployment.
func Open(config Config) (*Stores, error) {
	switch config.Type {
	case TypeMemory, "":
		return &Stores{
			Sessions:    NewMemorySessionStore(),
			Archive:     NewMemoryArchiveStore(),
			Checkpoints: NewMemoryCheckpointStore(),
			Audit:       NewMemoryAuditLog(),
		}, nil

	case TypeFile:
		sessions, err := NewFileSessionStore(config)
		if err != nil {
			return nil, err
		}
		archive, err := NewFileArchiveStore(config)
		if err != nil {
			return nil, err
		}
		checkpoints, err := NewFileCheckpointStore(config)
		if err != nil {
			return nil, err
		}
		audit, err := NewFileAuditLog(config)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Sessions:    sessions,
			Archive:     archive,
			Checkpoints: checkpoints,
			Audit:       audit,
		}, nil

	case TypeSQLite:
		sessions, err := NewFileSessionStore(config)
		if err != nil {
			return nil, err
		}
		archive, err := NewSQLiteArchiveStore(config)
		if err != nil {
			return nil, err
		}
		checkpoints, err := NewFileCheckpointStore(config)
		if err != nil {
			return nil, err
		}
		audit, err := NewFileAuditLog(config)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Sessions:    sessions,
			Archive:     archive,
			Checkpoints: checkpoints,
			Audit:       audit,
		}, nil

	case TypeRedis:
		sessions, err := NewRedisSessionStore(config)
		if err != nil {
			return nil, err
		}
		archive, err := NewRedisArchiveStore(config)
		if err != nil {
			return nil, err
		}
		checkpoints, err := NewRedisCheckpointStore(config)
		if err != nil {
			return nil, err
		}
		audit, err := NewRedisAuditLog(config)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Sessions:    sessions,
			Archive:     archive,
			Checkpoints: checkpoints,
			Audit:       audit,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}

// Close closes every store in the bundle, returning the first error.
func (s *Stores) Close() error {
	var first error
	for _, c := range []interface{ Close() error }{s.Sessions, s.Archive, s.Checkpoints, s.Audit} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
