package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(handler Handler) (*Manager, *memoryStore, *memoryLocker) {
	store := newMemoryStore()
	locker := &memoryLocker{}
	m := NewManager(store, locker, handler, Options{
		Prefix:              JobKeyPrefix,
		HealthcheckInterval: 20 * time.Millisecond,
		ContinuationDelay:   10 * time.Millisecond,
	})
	return m, store, locker
}

func TestGetManager(t *testing.T) {
	// Reset the singleton for testing
	globalManager = nil
	managerOnce = sync.Once{}

	manager1 := GetManager()
	manager2 := GetManager()

	assert.NotNil(t, manager1)
	assert.Same(t, manager1, manager2, "GetManager should return the same instance")
	assert.NotNil(t, manager1.Locker())
	assert.False(t, manager1.IsRunning())
}

func TestManager_PushDoesNotRun(t *testing.T) {
	handler := &recordingHandler{}
	m, store, _ := newTestManager(handler)

	key, err := m.Push(context.Background(), Payload{PaymentMethodID: "payex_psp_cc", WebhookData: webhookBody(1)})
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	size, _ := store.Size(context.Background())
	assert.Equal(t, int64(1), size)
	assert.Empty(t, handler.numbers())
}

func TestManager_Dispatch(t *testing.T) {
	handler := &recordingHandler{block: make(chan struct{})}
	m, store, locker := newTestManager(handler)
	enqueueNumbers(t, store, 3, 1)

	require.NoError(t, m.Dispatch(context.Background()))
	assert.ErrorIs(t, m.Dispatch(context.Background()), ErrLockHeld)
	assert.Same(t, locker, m.Locker())

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Processing)

	close(handler.block)
	require.True(t, WaitForCondition(func() bool {
		empty, _ := store.IsEmpty(context.Background())
		return empty && !locker.isHeld()
	}, 2*time.Second))
	assert.Equal(t, []int64{1, 3}, handler.numbers())
}

func TestManager_HealthcheckDispatchesPendingJobs(t *testing.T) {
	handler := &recordingHandler{}
	m, store, _ := newTestManager(handler)
	enqueueNumbers(t, store, 7)

	m.Start()
	defer m.Stop()
	assert.True(t, m.IsRunning())

	assert.True(t, WaitForCondition(func() bool {
		return len(handler.numbers()) == 1
	}, 2*time.Second))
}

func TestManager_ContinuationRedispatches(t *testing.T) {
	handler := &recordingHandler{}
	m, store, _ := newTestManager(handler)
	m.runner.Budget = Budget{TimeLimit: time.Nanosecond}
	enqueueNumbers(t, store, 1, 2, 3)

	require.NoError(t, m.runner.Run(context.Background()))
	assert.Equal(t, []int64{1}, handler.numbers())

	assert.True(t, WaitForCondition(func() bool {
		empty, _ := store.IsEmpty(context.Background())
		return empty
	}, 2*time.Second))
	assert.Equal(t, []int64{1, 2, 3}, handler.numbers())
}

func TestManager_StopWithoutStart(t *testing.T) {
	m, _, _ := newTestManager(&recordingHandler{})
	assert.False(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManager_Restart(t *testing.T) {
	m, _, _ := newTestManager(&recordingHandler{})
	m.Start()
	m.Stop()
	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManager_DispatchWithoutHandler(t *testing.T) {
	m, _, _ := newTestManager(nil)
	assert.Error(t, m.Dispatch(context.Background()))

	m.SetHandler(&recordingHandler{})
	assert.NoError(t, m.Dispatch(context.Background()))
}

func TestManager_SetHandlerDuringRun(t *testing.T) {
	first := &recordingHandler{block: make(chan struct{})}
	m, store, locker := newTestManager(first)
	enqueueNumbers(t, store, 1)

	require.NoError(t, m.Dispatch(context.Background()))
	second := &recordingHandler{}
	m.SetHandler(second)
	close(first.block)

	idle := func() bool {
		empty, _ := store.IsEmpty(context.Background())
		return empty && !locker.isHeld()
	}
	require.True(t, WaitForCondition(idle, 2*time.Second))
	assert.Equal(t, []int64{1}, first.numbers())
	assert.Empty(t, second.numbers())

	enqueueNumbers(t, store, 2)
	require.NoError(t, m.Dispatch(context.Background()))
	require.True(t, WaitForCondition(idle, 2*time.Second))
	assert.Equal(t, []int64{2}, second.numbers())
}
