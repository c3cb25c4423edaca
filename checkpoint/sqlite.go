package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/debateflow/types"
)

// checkpointRecord is the persisted row; the conversation state travels
// as a JSON blob so schema migrations stay trivial.
type checkpointRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index:idx_run_turn"`
	Turn      int    `gorm:"index:idx_run_turn"`
	Data      []byte
	CreatedAt time.Time
}

func (checkpointRecord) TableName() string { return "run_checkpoints" }

// SQLiteStore persists checkpoints in a local SQLite database.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and migrates) the database at path. Use
// ":memory:" for an ephemeral store.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = "debateflow.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointSave, "open sqlite database").WithCause(err)
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, types.NewError(types.ErrCheckpointSave, "migrate checkpoint schema").WithCause(err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("store", "sqlite_checkpoint")),
	}, nil
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	data, err := json.Marshal(cp.State)
	if err != nil {
		return types.NewError(types.ErrCheckpointSave, "marshal conversation state").WithCause(err)
	}

	rec := checkpointRecord{
		RunID:     cp.RunID,
		Turn:      cp.Turn,
		Data:      data,
		CreatedAt: cp.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return types.NewError(types.ErrCheckpointSave, "insert checkpoint").WithCause(err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("run_id", cp.RunID),
		zap.Int("turn", cp.Turn),
	)
	return nil
}

func (s *SQLiteStore) LoadLatest(ctx context.Context, runID string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("turn DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrCheckpointNotFound, "no checkpoints for run "+runID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointLoad, "query latest checkpoint").WithCause(err)
	}
	return recordToCheckpoint(&rec)
}

func (s *SQLiteStore) List(ctx context.Context, runID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("turn DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointLoad, "list checkpoints").WithCause(err)
	}

	out := make([]*Checkpoint, 0, len(recs))
	for i := range recs {
		cp, err := recordToCheckpoint(&recs[i])
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint",
				zap.Uint("id", recs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Delete(&checkpointRecord{}).Error
	if err != nil {
		return types.NewError(types.ErrCheckpointSave, "delete run checkpoints").WithCause(err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordToCheckpoint(rec *checkpointRecord) (*Checkpoint, error) {
	var state types.ConversationState
	if err := json.Unmarshal(rec.Data, &state); err != nil {
		return nil, types.NewError(types.ErrCheckpointLoad, "unmarshal conversation state").WithCause(err)
	}
	return &Checkpoint{
		RunID:     rec.RunID,
		Turn:      rec.Turn,
		State:     &state,
		CreatedAt: rec.CreatedAt,
	}, nil
}
