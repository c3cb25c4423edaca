package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/types"
)

// RedisStore persists checkpoints in Redis: one key per checkpoint plus a
// per-run sorted set scored by turn for latest/list queries.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrCheckpointSave, "connect to redis").WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "debateflow:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "debateflow:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) checkpointKey(runID string, turn int) string {
	return s.prefix + "ckpt:" + runID + ":" + strconv.Itoa(turn)
}

func (s *RedisStore) runKey(runID string) string {
	return s.prefix + "run:" + runID
}

func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return types.NewError(types.ErrCheckpointSave, "marshal checkpoint").WithCause(err)
	}

	key := s.checkpointKey(cp.RunID, cp.Turn)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.ZAdd(ctx, s.runKey(cp.RunID), redis.Z{
		Score:  float64(cp.Turn),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrCheckpointSave, "write checkpoint to redis").WithCause(err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("run_id", cp.RunID),
		zap.Int("turn", cp.Turn),
	)
	return nil
}

func (s *RedisStore) LoadLatest(ctx context.Context, runID string) (*Checkpoint, error) {
	keys, err := s.client.ZRevRange(ctx, s.runKey(runID), 0, 0).Result()
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointLoad, "query run index").WithCause(err)
	}
	if len(keys) == 0 {
		return nil, types.NewError(types.ErrCheckpointNotFound, "no checkpoints for run "+runID)
	}
	return s.load(ctx, keys[0])
}

func (s *RedisStore) List(ctx context.Context, runID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	keys, err := s.client.ZRevRange(ctx, s.runKey(runID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointLoad, "query run index").WithCause(err)
	}

	out := make([]*Checkpoint, 0, len(keys))
	for _, key := range keys {
		cp, err := s.load(ctx, key)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisStore) DeleteRun(ctx context.Context, runID string) error {
	keys, err := s.client.ZRange(ctx, s.runKey(runID), 0, -1).Result()
	if err != nil {
		return types.NewError(types.ErrCheckpointSave, "query run index").WithCause(err)
	}

	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	pipe.Del(ctx, s.runKey(runID))
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrCheckpointSave, "delete run checkpoints").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context, key string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewError(types.ErrCheckpointNotFound, "checkpoint expired: "+key)
	}
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointLoad, "read checkpoint").WithCause(err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, types.NewError(types.ErrCheckpointLoad, "unmarshal checkpoint").WithCause(err)
	}
	return &cp, nil
}
