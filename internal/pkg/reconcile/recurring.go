package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/orderstate"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
)

var ErrMissingPaymentToken = errors.New("invalid or missing payment token")

// ChargeRenewal charges a renewal order with its stored token. Any failure
// after the order was loaded moves it to manual processing with a note. The
// charge holds the process lock, so it fails with jobqueue.ErrLockHeld while
// the queue is running and leaves the order untouched.
func (r *Reconciler) ChargeRenewal(ctx context.Context, orderID uint, amount int64) (err error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
		}
		return err
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("renewal panicked: %v", rec)
		}
		if err != nil {
			r.toManualProcessing(ctx, order, amount, err)
		}
	}()

	token, err := r.renewalToken(ctx, order)
	if err != nil {
		return err
	}

	gateway, err := r.gateways.Get(order.PaymentMethodID)
	if err != nil {
		return err
	}

	payment, err := gateway.InitiateRecurringCharge(ctx, swedbankpay.RecurringCharge{
		OrderID:         order.ID,
		PaymentToken:    token.Token,
		RecurrenceToken: token.RecurrenceToken,
		Amount:          amount,
		Currency:        order.Currency,
		Description:     fmt.Sprintf("Order #%d", order.ID),
		PayeeReference:  payeeReference(order.ID),
	})
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("recurring_charge").Inc()
		return err
	}

	order.PaymentID = payment.ID
	if err := r.orders.Save(ctx, order); err != nil {
		return err
	}
	log.Infof("[Reconcile] Renewal order %d charged, payment %s", order.ID, payment.ID)

	txs, err := gateway.FetchTransactions(ctx, payment.ID)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("fetch_transactions").Inc()
		return err
	}
	if err := r.orders.SaveTransactions(ctx, order.ID, toOrderTransactions(txs)); err != nil {
		return err
	}

	for _, tx := range txs {
		if _, perr := r.ProcessTransaction(ctx, order, tx); perr != nil {
			log.Warnf("[Reconcile] Renewal order %d, transaction %d: %v", order.ID, tx.Number, perr)
		}
	}
	return nil
}

// renewalToken picks the first chargeable token of the order, falling back to
// the parent order's tokens.
func (r *Reconciler) renewalToken(ctx context.Context, order *models.Order) (*models.PaymentToken, error) {
	ids := []uint{order.ID}
	if order.ParentOrderID != nil {
		ids = append(ids, *order.ParentOrderID)
	}
	for _, id := range ids {
		tokens, err := r.orders.GetTokens(ctx, id)
		if err != nil {
			return nil, err
		}
		for i := range tokens {
			if tokens[i].GatewayID == order.PaymentMethodID && tokens[i].HasToken() {
				return &tokens[i], nil
			}
		}
	}
	return nil, ErrMissingPaymentToken
}

func (r *Reconciler) toManualProcessing(ctx context.Context, order *models.Order, amount int64, cause error) {
	log.Errorf("[Reconcile] Renewal of order %d failed: %v", order.ID, cause)

	if _, err := orderstate.Apply(order, orderstate.Transition{To: models.OrderStatusManualProcessing}); err != nil {
		log.Errorf("[Reconcile] %v", err)
		return
	}
	if err := r.orders.Save(ctx, order); err != nil {
		log.Errorf("[Reconcile] Failed to move order %d to manual processing: %v", order.ID, err)
		return
	}
	note := fmt.Sprintf("Failed to charge \"%s\". %s.", FormatAmount(amount, order.Currency), strings.TrimSuffix(cause.Error(), "."))
	if err := r.orders.AddNote(ctx, order.ID, note); err != nil {
		log.Warnf("[Reconcile] Failed to add note to order %d: %v", order.ID, err)
	}
}

func payeeReference(orderID uint) string {
	return fmt.Sprintf("%d%s", orderID, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
