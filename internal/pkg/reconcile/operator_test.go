package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/hooks"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
)

func authorizedFixture() *fixture {
	f := newFixture(testOrder(func(o *models.Order) {
		o.Status = models.OrderStatusAuthorized
		o.TransactionNumber = 3
	}))
	f.hooks.Register(f.rec.StatusListener())
	return f
}

func TestChangeStatus_CapturesAtProvider(t *testing.T) {
	f := authorizedFixture()

	order, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatusCaptured)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCaptured, order.Status)
	assert.Equal(t, 1, f.gw.captures)
	assert.Equal(t, models.OrderStatusCaptured, f.orders.order(1).Status)
	assert.Equal(t, []string{"Order status changed from authorized to captured by operator."}, f.orders.notesOf(1))
}

func TestChangeStatus_CancelsAtProvider(t *testing.T) {
	f := authorizedFixture()

	_, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, 1, f.gw.cancels)
	assert.Zero(t, f.gw.captures)
}

func TestChangeStatus_RollsBackOnProviderFailure(t *testing.T) {
	f := authorizedFixture()
	f.gw.captureErr = errors.New("insufficient funds")

	_, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatusCaptured)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")

	assert.Equal(t, models.OrderStatusAuthorized, f.orders.order(1).Status)
	notes := f.orders.notesOf(1)
	require.Len(t, notes, 2)
	assert.Equal(t, "Unable to capture payment: insufficient funds. Status reverted to authorized.", notes[1])
}

func TestChangeStatus_NoProviderCallOutsideAuthorized(t *testing.T) {
	f := newFixture(testOrder(nil))
	f.hooks.Register(f.rec.StatusListener())

	_, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatusCaptured)
	require.NoError(t, err)
	assert.Zero(t, f.gw.captures)
}

func TestChangeStatus_Validation(t *testing.T) {
	f := authorizedFixture()

	_, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatus("shipped"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.rec.ChangeStatus(context.Background(), 99, models.OrderStatusCaptured)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	order, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatusAuthorized)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAuthorized, order.Status)
	assert.Empty(t, f.orders.notesOf(1))
}

func TestChangeStatus_NotAffectedBySuppressionInOtherGoroutine(t *testing.T) {
	f := authorizedFixture()

	held := make(chan struct{})
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, release := hooks.Suppress(context.Background())
		defer release()
		close(held)
		<-done
	}()
	<-held

	order, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatusCaptured)
	close(done)
	<-finished

	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCaptured, order.Status)
	assert.Equal(t, 1, f.gw.captures)
}

func TestChangeStatus_QueueRunning(t *testing.T) {
	f := authorizedFixture()
	f.rec.SetLocker(&fakeLocker{held: true})

	_, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatusCaptured)
	require.ErrorIs(t, err, jobqueue.ErrLockHeld)

	assert.Equal(t, models.OrderStatusAuthorized, f.orders.order(1).Status)
	assert.Zero(t, f.gw.captures)
	assert.Empty(t, f.orders.notesOf(1))
}

func TestChangeStatus_ReleasesLock(t *testing.T) {
	f := authorizedFixture()
	locker := &fakeLocker{}
	f.rec.SetLocker(locker)

	_, err := f.rec.ChangeStatus(context.Background(), 1, models.OrderStatusCaptured)
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.captures)
	assert.False(t, locker.isHeld())
}
