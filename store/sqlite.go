package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// archivedTurnRow is the gorm model for archived turns. The composite unique
// index makes concurrent appends safe: a duplicate (session, index) insert is
// dropped instead of failing or overwriting.
type archivedTurnRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"size:64;uniqueIndex:idx_session_turn,priority:1;not null"`
	TurnIndex  int    `gorm:"uniqueIndex:idx_session_turn,priority:2;not null"`
	Role       string `gorm:"size:16"`
	Content    string
	AgentID    string `gorm:"size:64"`
	ArchivedAt time.Time
}

func (archivedTurnRow) TableName() string { return "archived_turns" }

// SQLiteArchiveStore is a durable ArchiveStore backed by an embedded SQLite
// database.
type SQLiteArchiveStore struct {
	db *gorm.DB
}

// NewSQLiteArchiveStore opens (creating if needed) the archive database and
// migrates its schema.
func NewSQLiteArchiveStore(config Config) (*SQLiteArchiveStore, error) {
	path := config.SQLitePath
	if path == "" {
		path = filepath.Join(config.BaseDir, "archive.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	if err := db.AutoMigrate(&archivedTurnRow{}); err != nil {
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	return &SQLiteArchiveStore{db: db}, nil
}

// Append implements ArchiveStore using insert-or-ignore semantics.
func (s *SQLiteArchiveStore) Append(ctx context.Context, turns []ArchivedTurn) error {
	if len(turns) == 0 {
		return nil
	}
	rows := make([]archivedTurnRow, 0, len(turns))
	for _, t := range turns {
		if t.SessionID == "" {
			return ErrInvalidInput
		}
		rows = append(rows, archivedTurnRow{
			SessionID:  t.SessionID,
			TurnIndex:  t.Index,
			Role:       t.Role,
			Content:    t.Content,
			AgentID:    t.AgentID,
			ArchivedAt: t.ArchivedAt,
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// Get implements ArchiveStore.
func (s *SQLiteArchiveStore) Get(ctx context.Context, sessionID string, index int) (*ArchivedTurn, error) {
	var row archivedTurnRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND turn_index = ?", sessionID, index).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t := rowToTurn(row)
	return &t, nil
}

// List implements ArchiveStore.
func (s *SQLiteArchiveStore) List(ctx context.Context, sessionID string) ([]ArchivedTurn, error) {
	var rows []archivedTurnRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	turns := make([]ArchivedTurn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, rowToTurn(row))
	}
	return turns, nil
}

// Close implements ArchiveStore.
func (s *SQLiteArchiveStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowToTurn(row archivedTurnRow) ArchivedTurn {
	return ArchivedTurn{
		SessionID:  row.SessionID,
		Index:      row.TurnIndex,
		Role:       row.Role,
		Content:    row.Content,
		AgentID:    row.AgentID,
		ArchivedAt: row.ArchivedAt,
	}
}
