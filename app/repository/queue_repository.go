package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/cache"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
)

// queueRepository implements the QueueRepository interface
type queueRepository struct {
	// Note: This repository doesn't use GORM DB since it operates on Redis/Cache
}

// NewQueueRepository creates a new queue repository instance
func NewQueueRepository() QueueRepository {
	return &queueRepository{}
}

// ListJobKeys returns job keys in submission order
func (r *queueRepository) ListJobKeys(ctx context.Context, offset, limit int64) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = offset + limit - 1
	}
	return cache.GetClient().ZRange(ctx, jobqueue.JobIndexKey, offset, stop).Result()
}

// GetJobData returns the raw stored job JSON
func (r *queueRepository) GetJobData(ctx context.Context, key string) (string, error) {
	value, err := cache.GetClient().HGet(ctx, jobqueue.JobDataKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return value, err
}

// GetLockTTL returns the remaining lifetime of the Redis process lock, or a
// negative duration when it is not held
func (r *queueRepository) GetLockTTL(ctx context.Context) (time.Duration, error) {
	ttl, err := cache.GetClient().PTTL(ctx, jobqueue.LockKey).Result()
	if err != nil {
		return -1, err
	}
	return ttl, nil
}

// GetSequence returns the last allocated job sequence number
func (r *queueRepository) GetSequence(ctx context.Context) (int64, error) {
	value, err := cache.GetClient().Get(ctx, jobqueue.JobSequenceKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}
