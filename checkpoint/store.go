// Package checkpoint persists debate run state so an interrupted run can
// resume from its last completed turn. Two backends are provided: SQLite
// for single-host deployments and Redis for distributed ones.
package checkpoint

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/types"
)

// Checkpoint is one saved snapshot of a run, taken after the metrics
// update of a turn so a resumed run re-enters at the routing point.
type Checkpoint struct {
	RunID     string                   `json:"run_id"`
	Turn      int                      `json:"turn"`
	State     *types.ConversationState `json:"state"`
	CreatedAt time.Time                `json:"created_at"`
}

// Store persists checkpoints.
type Store interface {
	// Save persists a checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error

	// LoadLatest returns the newest checkpoint of a run. A run with no
	// checkpoints yields ErrCheckpointNotFound.
	LoadLatest(ctx context.Context, runID string) (*Checkpoint, error)

	// List returns up to limit checkpoints of a run, newest first.
	List(ctx context.Context, runID string, limit int) ([]*Checkpoint, error)

	// DeleteRun removes all checkpoints of a run.
	DeleteRun(ctx context.Context, runID string) error

	// Close releases the backing connection.
	Close() error
}

// New builds the store selected by cfg.Store.
func New(cfg config.CheckpointConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Store {
	case "redis":
		return NewRedisStore(cfg.Redis, logger)
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path, logger)
	default:
		return nil, types.NewError(types.ErrInvalidConfig,
			"unknown checkpoint store: "+cfg.Store)
	}
}
