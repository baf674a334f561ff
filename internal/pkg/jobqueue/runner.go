package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.uber.org/atomic"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/metrics"
)

// Budget limits a single run. Zero values disable the respective check.
type Budget struct {
	TimeLimit   time.Duration
	MemoryLimit uint64 // bytes
}

// BudgetFromEnv reads QUEUE_TIME_LIMIT and QUEUE_MEMORY_LIMIT_MB.
func BudgetFromEnv() Budget {
	return Budget{
		TimeLimit:   env.GetDuration("QUEUE_TIME_LIMIT", 20*time.Second),
		MemoryLimit: uint64(env.GetInt("QUEUE_MEMORY_LIMIT_MB", 128)) * 1024 * 1024,
	}
}

// Exceeded reports whether a run started at started must stop. The memory
// check trips at 90% of the limit.
func (b Budget) Exceeded(started time.Time) bool {
	if b.TimeLimit > 0 && time.Since(started) >= b.TimeLimit {
		return true
	}
	if b.MemoryLimit > 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapAlloc >= b.MemoryLimit/10*9 {
			return true
		}
	}
	return false
}

// Scheduler receives continuation requests when a run stops on its budget.
type Scheduler interface {
	ScheduleContinuation()
}

// RunSummary describes the last finished run.
type RunSummary struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Processed      int       `json:"processed"`
	Deleted        int       `json:"deleted"`
	Retried        int       `json:"retried"`
	BudgetExceeded bool      `json:"budget_exceeded"`
	Completed      bool      `json:"completed"`
	Error          string    `json:"error,omitempty"`
}

// Runner drains the store under the process lock.
type Runner struct {
	Store      Store
	Locker     Locker
	Handler    Handler
	Budget     Budget
	Scheduler  Scheduler
	Prefix     string
	BatchSize  int
	OnComplete func(ctx context.Context)

	busy atomic.Bool
	mu   sync.Mutex // guards Handler and last
	last *RunSummary
}

// Run processes jobs synchronously. It returns ErrLockHeld without touching
// the store when another run is active.
func (r *Runner) Run(ctx context.Context) error {
	guard, handler, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	return r.process(ctx, guard, handler)
}

// Start acquires the lock and processes jobs in the background. The returned
// channel yields the run's error (nil on success) and is then closed.
func (r *Runner) Start(ctx context.Context) (<-chan error, error) {
	guard, handler, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- r.process(ctx, guard, handler)
	}()
	return done, nil
}

// IsBusy reports whether a run is in flight in this process.
func (r *Runner) IsBusy() bool {
	return r.busy.Load()
}

// LastRun returns a copy of the last finished run, or nil.
func (r *Runner) LastRun() *RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

// SetHandler replaces the handler. A run in flight keeps the handler it
// started with.
func (r *Runner) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Handler = h
}

func (r *Runner) handler() Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Handler
}

func (r *Runner) acquire(ctx context.Context) (Guard, Handler, error) {
	handler := r.handler()
	if handler == nil {
		return nil, nil, errors.New("no job handler registered")
	}
	guard, err := r.Locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			metrics.Runs.WithLabelValues("lock_held").Inc()
		}
		return nil, nil, err
	}
	r.busy.Store(true)
	return guard, handler, nil
}

func (r *Runner) process(ctx context.Context, guard Guard, handler Handler) (err error) {
	summary := RunSummary{StartedAt: time.Now()}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("queue worker panicked: %v", rec)
		}
		if rerr := guard.Release(context.Background()); rerr != nil {
			log.Errorf("[JobQueue] Failed to release lock: %v", rerr)
		}
		summary.FinishedAt = time.Now()
		if err != nil {
			summary.Error = err.Error()
			log.Errorf("[JobQueue] Run aborted: %v", err)
			metrics.Runs.WithLabelValues("error").Inc()
		}
		metrics.RunDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
		r.mu.Lock()
		r.last = &summary
		r.mu.Unlock()
		r.busy.Store(false)
	}()

	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		jobs, err := r.Store.ListPending(ctx, r.Prefix, batchSize)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			summary.Completed = true
			log.Infof("[JobQueue] Queue drained (%d processed, %d retried)", summary.Processed, summary.Retried)
			metrics.Runs.WithLabelValues("completed").Inc()
			if r.OnComplete != nil {
				r.OnComplete(ctx)
			}
			return nil
		}

		deleted := 0
		for _, job := range jobs {
			result := handler.Handle(ctx, job)
			summary.Processed++
			metrics.JobsProcessed.WithLabelValues(result.String()).Inc()

			if result == ResultDone {
				if err := r.Store.Delete(ctx, job.Key); err != nil {
					return err
				}
				deleted++
				summary.Deleted++
			} else {
				summary.Retried++
				log.Warnf("[JobQueue] Job %s kept for retry", job.Key)
			}

			if r.Budget.Exceeded(summary.StartedAt) {
				summary.BudgetExceeded = true
				log.Infof("[JobQueue] Budget exceeded after %d jobs, scheduling continuation", summary.Processed)
				metrics.Runs.WithLabelValues("budget").Inc()
				if r.Scheduler != nil {
					r.Scheduler.ScheduleContinuation()
				}
				return nil
			}
		}

		if deleted == 0 {
			log.Warnf("[JobQueue] Batch produced only retries, ending run")
			metrics.Runs.WithLabelValues("retries").Inc()
			return nil
		}
	}
}
