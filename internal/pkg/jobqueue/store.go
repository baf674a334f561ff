package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/webhook"
)

// Store is the durable job table. The runner borrows jobs, it never owns them.
type Store interface {
	Enqueue(ctx context.Context, payload Payload) (string, error)
	ListPending(ctx context.Context, prefix string, limit int) ([]Job, error)
	Delete(ctx context.Context, key string) error
	Size(ctx context.Context) (int64, error)
	IsEmpty(ctx context.Context) (bool, error)
}

// RedisStore keeps job bodies in a hash and their submission order in a
// sorted set scored by an INCR sequence.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: JobKeyPrefix}
}

// NewJobKey returns a fresh, time ordered job key.
func NewJobKey(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + id.String()
}

// Enqueue stores the payload and returns its key.
func (s *RedisStore) Enqueue(ctx context.Context, payload Payload) (string, error) {
	job := &Job{
		Key:       NewJobKey(s.prefix),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	data, err := job.ToJSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	seq, err := s.client.Incr(ctx, JobSequenceKey).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate job sequence: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, JobDataKey, job.Key, data)
		pipe.ZAdd(ctx, JobIndexKey, redis.Z{Score: float64(seq), Member: job.Key})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debugf("[JobQueue] Enqueued job %s (seq %d)", job.Key, seq)
	return job.Key, nil
}

// ListPending returns up to limit jobs whose key starts with prefix, in
// submission order, resorted by transaction number. limit <= 0 means all.
func (s *RedisStore) ListPending(ctx context.Context, prefix string, limit int) ([]Job, error) {
	keys, err := s.client.ZRange(ctx, JobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job index: %w", err)
	}

	selected := make([]string, 0, len(keys))
	for _, k := range keys {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		selected = append(selected, k)
		if limit > 0 && len(selected) >= limit {
			break
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, JobDataKey, selected...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without body, left behind by an interrupted delete
			log.Warnf("[JobQueue] Job %s has no data, skipping", selected[i])
			continue
		}
		job, err := JobFromJSON([]byte(raw))
		if err != nil {
			log.Errorf("[JobQueue] Failed to unmarshal job %s: %v", selected[i], err)
			job = &Job{Key: selected[i]}
		}
		if job.Key == "" {
			job.Key = selected[i]
		}
		jobs = append(jobs, *job)
	}

	SortByTransactionNumber(jobs)
	return jobs, nil
}

// Delete removes a job. Deleting an unknown key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, JobDataKey, key)
		pipe.ZRem(ctx, JobIndexKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", key, err)
	}
	return nil
}

// Size returns the number of stored jobs.
func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, JobIndexKey).Result()
}

// IsEmpty reports whether no job is stored.
func (s *RedisStore) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Size(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// SortByTransactionNumber stable-sorts jobs ascending by the transaction
// number embedded in their webhook data. Jobs without a parseable number sort
// as 0 and therefore come first.
func SortByTransactionNumber(jobs []Job) {
	numbers := make(map[string]int64, len(jobs))
	for _, j := range jobs {
		numbers[j.Key] = webhook.TransactionNumber([]byte(j.Payload.WebhookData))
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		return numbers[jobs[a].Key] < numbers[jobs[b].Key]
	})
}
