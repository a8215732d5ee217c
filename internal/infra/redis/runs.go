package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/storage"
)

// DefaultRunTTL is how long run records stay in Redis.
const DefaultRunTTL = 7 * 24 * time.Hour

// RunRepo implements storage.RunRepository using Redis.
type RunRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRunRepo creates a new Redis-backed run repository.
func NewRunRepo(client *Client, ttl time.Duration) *RunRepo {
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}
	return &RunRepo{rdb: client.rdb, ttl: ttl}
}

// Key helpers
func runKey(id string) string {
	return fmt.Sprintf("run:%s", id)
}

func recentKey() string {
	return "runs:recent"
}

func groupKey(groupID string) string {
	return fmt.Sprintf("runs:group:%s", groupID)
}

// Save stores the run and indexes it by start time.
func (r *RunRepo) Save(ctx context.Context, run *domain.RunResult) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	score := float64(run.StartedAt.UnixMilli())
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, runKey(run.RunID), data, r.ttl)
	pipe.ZAdd(ctx, recentKey(), redis.Z{Score: score, Member: run.RunID})
	pipe.ZAdd(ctx, groupKey(run.GroupID), redis.Z{Score: score, Member: run.RunID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Get retrieves a run by id.
func (r *RunRepo) Get(ctx context.Context, runID string) (*domain.RunResult, error) {
	data, err := r.rdb.Get(ctx, runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run domain.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRecent returns the newest runs.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]*domain.RunResult, error) {
	return r.listIndex(ctx, recentKey(), limit)
}

// ListByGroup returns the newest runs of one group.
func (r *RunRepo) ListByGroup(ctx context.Context, groupID string, limit int) ([]*domain.RunResult, error) {
	return r.listIndex(ctx, groupKey(groupID), limit)
}

// DeleteBefore removes runs started before cutoff along with their index entries.
func (r *RunRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	maxScore := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	ids, err := r.rdb.ZRangeByScore(ctx, recentKey(), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := r.rdb.TxPipeline()
	for _, id := range ids {
		run, err := r.Get(ctx, id)
		if err != nil && err != storage.ErrRunNotFound {
			return 0, err
		}
		if run != nil {
			pipe.ZRem(ctx, groupKey(run.GroupID), id)
		}
		pipe.Del(ctx, runKey(id))
	}
	pipe.ZRemRangeByScore(ctx, recentKey(), "-inf", maxScore)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return len(ids), nil
}

func (r *RunRepo) listIndex(ctx context.Context, key string, limit int) ([]*domain.RunResult, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.rdb.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	runs := make([]*domain.RunResult, 0, len(ids))
	for _, id := range ids {
		run, err := r.Get(ctx, id)
		if err == storage.ErrRunNotFound {
			// Record expired but id still indexed
			r.rdb.ZRem(ctx, key, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

var _ storage.RunRepository = (*RunRepo)(nil)
