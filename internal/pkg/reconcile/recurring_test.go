package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
)

func renewalOrder() *models.Order {
	parent := uint(1)
	return testOrder(func(o *models.Order) {
		o.ID = 2
		o.PaymentID = ""
		o.ParentOrderID = &parent
		o.Total = 1234
	})
}

func TestChargeRenewal_MissingTokenMovesToManualProcessing(t *testing.T) {
	f := newFixture(renewalOrder())

	err := f.rec.ChargeRenewal(context.Background(), 2, 1234)
	require.ErrorIs(t, err, ErrMissingPaymentToken)

	order := f.orders.order(2)
	assert.Equal(t, models.OrderStatusManualProcessing, order.Status)
	assert.Equal(t, []string{`Failed to charge "12.34 SEK". invalid or missing payment token.`}, f.orders.notesOf(2))
	assert.Empty(t, f.gw.recurring)
}

func TestChargeRenewal_GatewayRejection(t *testing.T) {
	f := newFixture(renewalOrder())
	f.orders.tokens[1] = []models.PaymentToken{{ID: 1, GatewayID: testMethod, RecurrenceToken: "rec-1"}}
	f.gw.recurErr = errors.New("card expired")

	err := f.rec.ChargeRenewal(context.Background(), 2, 1234)
	require.Error(t, err)

	assert.Equal(t, models.OrderStatusManualProcessing, f.orders.order(2).Status)
	assert.Equal(t, []string{`Failed to charge "12.34 SEK". card expired.`}, f.orders.notesOf(2))
}

func TestChargeRenewal_UsesParentToken(t *testing.T) {
	f := newFixture(renewalOrder(), swedbankpay.Transaction{
		ID:     "/psp/creditcard/payments/renewal/transactions/1",
		Type:   swedbankpay.TypeAuthorization,
		State:  swedbankpay.StateCompleted,
		Number: 1,
		Amount: 1234,
	})
	f.orders.tokens[1] = []models.PaymentToken{
		{ID: 3, GatewayID: "other_gateway", Token: "foreign"},
		{ID: 1, GatewayID: testMethod, RecurrenceToken: "rec-1"},
	}
	locker := &fakeLocker{}
	f.rec.SetLocker(locker)

	require.NoError(t, f.rec.ChargeRenewal(context.Background(), 2, 1234))
	assert.Equal(t, 1, locker.acquired)
	assert.False(t, locker.isHeld())

	require.Len(t, f.gw.recurring, 1)
	charge := f.gw.recurring[0]
	assert.Equal(t, "rec-1", charge.RecurrenceToken)
	assert.Equal(t, int64(1234), charge.Amount)
	assert.Equal(t, "SEK", charge.Currency)
	assert.Regexp(t, `^2[0-9a-f]{12}$`, charge.PayeeReference)

	order := f.orders.order(2)
	assert.Equal(t, "/psp/creditcard/payments/renewal", order.PaymentID)
	assert.Equal(t, models.OrderStatusAuthorized, order.Status)
	assert.Equal(t, int64(1), order.TransactionNumber)
	assert.Len(t, f.orders.txs[2], 1)
}

func TestChargeRenewal_UnknownOrder(t *testing.T) {
	f := newFixture(renewalOrder())

	err := f.rec.ChargeRenewal(context.Background(), 42, 100)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestChargeRenewal_QueueRunning(t *testing.T) {
	f := newFixture(renewalOrder())
	f.orders.tokens[1] = []models.PaymentToken{{ID: 1, GatewayID: testMethod, RecurrenceToken: "rec-1"}}
	locker := &fakeLocker{held: true}
	f.rec.SetLocker(locker)

	err := f.rec.ChargeRenewal(context.Background(), 2, 1234)
	require.ErrorIs(t, err, jobqueue.ErrLockHeld)

	order := f.orders.order(2)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Empty(t, order.PaymentID)
	assert.Empty(t, f.orders.notesOf(2))
	assert.Empty(t, f.gw.recurring)
	assert.Zero(t, f.orders.saves)
}

func TestChargeRenewal_FailureReleasesLock(t *testing.T) {
	f := newFixture(renewalOrder())
	locker := &fakeLocker{}
	f.rec.SetLocker(locker)

	require.ErrorIs(t, f.rec.ChargeRenewal(context.Background(), 2, 1234), ErrMissingPaymentToken)
	assert.False(t, locker.isHeld())
	assert.Equal(t, models.OrderStatusManualProcessing, f.orders.order(2).Status)
}
