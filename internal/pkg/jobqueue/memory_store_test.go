package jobqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// memoryStore is an in-process Store used by the runner and manager tests.
type memoryStore struct {
	mu   sync.Mutex
	seq  int
	keys []string
	jobs map[string]Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: map[string]Job{}}
}

func (s *memoryStore) Enqueue(_ context.Context, payload Payload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	key := fmt.Sprintf("%s%04d", JobKeyPrefix, s.seq)
	s.keys = append(s.keys, key)
	s.jobs[key] = Job{Key: key, Payload: payload, CreatedAt: time.Now()}
	return key, nil
}

func (s *memoryStore) ListPending(_ context.Context, prefix string, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, k := range s.keys {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, s.jobs[k])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	SortByTransactionNumber(out)
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memoryStore) Size(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.keys)), nil
}

func (s *memoryStore) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Size(ctx)
	return n == 0, err
}

// memoryLocker is a non-blocking in-process lock.
type memoryLocker struct {
	mu   sync.Mutex
	held bool
}

func (l *memoryLocker) Acquire(_ context.Context) (Guard, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, ErrLockHeld
	}
	l.held = true
	return &memoryGuard{locker: l}, nil
}

func (l *memoryLocker) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

type memoryGuard struct {
	locker *memoryLocker
	once   sync.Once
}

func (g *memoryGuard) Release(_ context.Context) error {
	g.once.Do(func() {
		g.locker.mu.Lock()
		g.locker.held = false
		g.locker.mu.Unlock()
	})
	return nil
}

func webhookBody(number int) string {
	return fmt.Sprintf(`{"payment":{"id":"/psp/creditcard/payments/p1","number":1},"transaction":{"id":"/psp/creditcard/payments/p1/transactions/t%d","number":%d}}`, number, number)
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
