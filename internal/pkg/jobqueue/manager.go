package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/cache"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/metrics"
)

// Options configure a Manager.
type Options struct {
	Prefix              string
	BatchSize           int
	Budget              Budget
	HealthcheckInterval time.Duration
	ContinuationDelay   time.Duration
}

// OptionsFromEnv reads the QUEUE_* settings.
func OptionsFromEnv() Options {
	return Options{
		Prefix:              JobKeyPrefix,
		BatchSize:           env.GetInt("QUEUE_BATCH_SIZE", DefaultBatchSize),
		Budget:              BudgetFromEnv(),
		HealthcheckInterval: env.GetDuration("QUEUE_HEALTHCHECK_INTERVAL", time.Minute),
		ContinuationDelay:   env.GetDuration("QUEUE_CONTINUATION_DELAY", 5*time.Second),
	}
}

// Stats is the queue status shown on the admin endpoint.
type Stats struct {
	Pending        int64       `json:"pending"`
	Processing     bool        `json:"processing"`
	ManagerRunning bool        `json:"manager_running"`
	LastRun        *RunSummary `json:"last_run,omitempty"`
}

// Manager owns the job store, the runner and the background triggers.
type Manager struct {
	store  Store
	runner *Runner
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	healthTicker *time.Ticker
	continuation *time.Timer
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global queue manager (singleton) backed by Redis.
// A handler must be registered with SetHandler before jobs can be processed.
func GetManager() *Manager {
	managerOnce.Do(func() {
		client := cache.GetClient()
		globalManager = NewManager(NewRedisStore(client), NewLockerFromEnv(client), nil, OptionsFromEnv())
	})
	return globalManager
}

// NewManager wires a manager from its parts.
func NewManager(store Store, locker Locker, handler Handler, opts Options) *Manager {
	if opts.HealthcheckInterval <= 0 {
		opts.HealthcheckInterval = time.Minute
	}
	if opts.ContinuationDelay <= 0 {
		opts.ContinuationDelay = 5 * time.Second
	}
	m := &Manager{
		store:  store,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.runner = &Runner{
		Store:     store,
		Locker:    locker,
		Handler:   handler,
		Budget:    opts.Budget,
		Scheduler: m,
		Prefix:    opts.Prefix,
		BatchSize: opts.BatchSize,
		OnComplete: func(ctx context.Context) {
			metrics.PendingJobs.Set(0)
		},
	}
	return m
}

// SetHandler registers the job handler. It is safe to call while a run is
// in flight; the new handler applies from the next run.
func (m *Manager) SetHandler(h Handler) {
	m.runner.SetHandler(h)
}

// Locker returns the process lock of the queue. Writers outside the queue
// take it to stay serialized with runs.
func (m *Manager) Locker() Locker {
	return m.runner.Locker
}

// Push enqueues a job without running the queue.
func (m *Manager) Push(ctx context.Context, payload Payload) (string, error) {
	key, err := m.store.Enqueue(ctx, payload)
	if err != nil {
		return "", err
	}
	metrics.JobsEnqueued.Inc()
	return key, nil
}

// Dispatch starts a run in the background and returns immediately. It fails
// with ErrLockHeld when a run is already in progress.
func (m *Manager) Dispatch(_ context.Context) error {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	done, err := m.runner.Start(ctx)
	if err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("[JobQueue Manager] Run failed: %v", err)
		}
	}()
	return nil
}

// ScheduleContinuation re-dispatches after the configured delay. A pending
// continuation is replaced.
func (m *Manager) ScheduleContinuation() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.continuation != nil {
		m.continuation.Stop()
	}
	m.continuation = time.AfterFunc(m.opts.ContinuationDelay, func() {
		if err := m.Dispatch(context.Background()); err != nil {
			if errors.Is(err, ErrLockHeld) {
				log.Debug("[JobQueue Manager] Continuation skipped, queue already running")
				return
			}
			log.Errorf("[JobQueue Manager] Continuation failed: %v", err)
		}
	})
	log.Debugf("[JobQueue Manager] Continuation scheduled in %s", m.opts.ContinuationDelay)
}

// Start starts the healthcheck trigger.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Fresh channel and context per start cycle so the manager can be restarted.
	m.stopCh = make(chan struct{})
	if m.ctx.Err() != nil {
		m.ctx, m.cancel = context.WithCancel(context.Background())
	}
	m.running = true
	log.Infof("[JobQueue Manager] Starting (healthcheck every %s)", m.opts.HealthcheckInterval)

	m.healthTicker = time.NewTicker(m.opts.HealthcheckInterval)
	m.wg.Add(1)
	go m.healthcheckWorker(m.healthTicker, m.stopCh)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the triggers and waits for an in-flight run to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	log.Info("[JobQueue Manager] Stopping...")
	if m.healthTicker != nil {
		m.healthTicker.Stop()
	}
	if m.continuation != nil {
		m.continuation.Stop()
		m.continuation = nil
	}
	close(m.stopCh)
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns the current queue status.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	pending, err := m.store.Size(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:        pending,
		Processing:     m.runner.IsBusy(),
		ManagerRunning: m.IsRunning(),
		LastRun:        m.runner.LastRun(),
	}, nil
}

// healthcheckWorker dispatches whenever jobs are left in the store, covering
// callbacks whose inline dispatch lost the lock race.
func (m *Manager) healthcheckWorker(ticker *time.Ticker, stopCh <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Healthcheck worker stopping")
			return
		case <-ticker.C:
			m.healthcheckOnce(context.Background())
		}
	}
}

func (m *Manager) healthcheckOnce(ctx context.Context) {
	size, err := m.store.Size(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Healthcheck failed: %v", err)
		return
	}
	metrics.PendingJobs.Set(float64(size))
	if size == 0 {
		return
	}

	log.Debugf("[JobQueue Manager] Healthcheck found %d pending jobs", size)
	if err := m.Dispatch(ctx); err != nil && !errors.Is(err, ErrLockHeld) {
		log.Errorf("[JobQueue Manager] Healthcheck dispatch failed: %v", err)
	}
}
