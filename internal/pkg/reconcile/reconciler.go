// Package reconcile applies Swedbank Pay transactions to local orders.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/hooks"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/orderstate"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/webhook"
)

var (
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrOrderNotFound       = errors.New("order not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrStorage wraps database failures while persisting the order itself.
	ErrStorage = errors.New("order storage failed")
)

// GatewayResolver returns the provider client of a payment method.
type GatewayResolver interface {
	Get(paymentMethodID string) (swedbankpay.API, error)
}

// Outcome summarizes one reconciliation.
type Outcome struct {
	OrderID           uint
	TransactionNumber int64
	Kind              swedbankpay.TransactionKind
	Result            orderstate.Result
	Status            models.OrderStatus
	TokenSaved        bool
}

// Reconciler fetches the authoritative transaction list and moves the order
// accordingly.
type Reconciler struct {
	orders   repository.OrderRepository
	tokens   repository.TokenRepository
	subs     repository.SubscriptionRepository
	gateways GatewayResolver
	hooks    *hooks.Registry
	locker   jobqueue.Locker
}

// New creates a reconciler. A nil registry uses hooks.Default().
func New(orders repository.OrderRepository, tokens repository.TokenRepository, subs repository.SubscriptionRepository, gateways GatewayResolver, registry *hooks.Registry) *Reconciler {
	if registry == nil {
		registry = hooks.Default()
	}
	return &Reconciler{
		orders:   orders,
		tokens:   tokens,
		subs:     subs,
		gateways: gateways,
		hooks:    registry,
	}
}

// NewFromRepositories wires a reconciler from the repository set.
func NewFromRepositories(repos *repository.Repositories, gateways GatewayResolver, registry *hooks.Registry) *Reconciler {
	return New(repos.Order, repos.Token, repos.Subscription, gateways, registry)
}

// SetLocker makes the operator paths (ChangeStatus, ChargeRenewal) run under
// the queue's process lock. The queue handler must not take it again.
func (r *Reconciler) SetLocker(l jobqueue.Locker) {
	r.locker = l
}

// lock acquires the process lock without blocking. It fails with
// jobqueue.ErrLockHeld while a queue run owns it.
func (r *Reconciler) lock(ctx context.Context) (release func(), err error) {
	if r.locker == nil {
		return func() {}, nil
	}
	guard, err := r.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := guard.Release(context.Background()); err != nil {
			log.Errorf("[Reconcile] Failed to release lock: %v", err)
		}
	}, nil
}

// Reconcile applies the transaction named by n to its order.
func (r *Reconciler) Reconcile(ctx context.Context, paymentMethodID string, n *webhook.Notification) (*Outcome, error) {
	gateway, err := r.gateways.Get(paymentMethodID)
	if err != nil {
		return nil, err
	}

	order, err := r.orders.FindByPaymentID(ctx, n.PaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: payment %s", ErrOrderNotFound, n.PaymentID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	txs, err := gateway.FetchTransactions(ctx, n.PaymentID)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("fetch_transactions").Inc()
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := r.orders.SaveTransactions(ctx, order.ID, toOrderTransactions(txs)); err != nil {
		return nil, fmt.Errorf("%w: saving transaction log: %v", ErrStorage, err)
	}

	tx, ok := swedbankpay.FindByNumber(txs, n.TransactionNumber)
	if !ok {
		return nil, fmt.Errorf("%w: number %d on payment %s", ErrTransactionNotFound, n.TransactionNumber, n.PaymentID)
	}

	ctx, release := hooks.Suppress(ctx)
	defer release()

	out := &Outcome{
		OrderID:           order.ID,
		TransactionNumber: tx.Number,
		Kind:              tx.Kind(),
		Result:            orderstate.Stale,
	}
	err = r.dispatch(ctx, gateway, order, tx, out)
	out.Status = order.Status
	metrics.Reconciliations.WithLabelValues(out.Kind.String(), out.Result.String()).Inc()
	if err != nil {
		if errors.Is(err, ErrStorage) {
			return out, err
		}
		log.Errorf("[Reconcile] Order %d, transaction %d: %v", order.ID, tx.Number, err)
	}
	return out, nil
}

func (r *Reconciler) dispatch(ctx context.Context, gateway swedbankpay.API, order *models.Order, tx swedbankpay.Transaction, out *Outcome) error {
	if tx.Number <= order.TransactionNumber {
		log.Infof("[Reconcile] Stale transaction %d for order %d (last applied %d), skipped", tx.Number, order.ID, order.TransactionNumber)
		out.Result = orderstate.Stale
		return nil
	}

	switch tx.Kind() {
	case swedbankpay.KindVerification:
		return r.processVerification(ctx, gateway, order, tx, out)
	case swedbankpay.KindCapture, swedbankpay.KindSale:
		if !tx.IsFailed() && !tx.IsPending() && order.NeedsSaveToken {
			if err := r.saveToken(ctx, gateway, order); err != nil {
				log.Errorf("[Reconcile] Failed to save payment token for order %d: %v", order.ID, err)
			} else {
				out.TokenSaved = true
			}
		}
		if err := r.updateSubscriptionTokens(ctx, order); err != nil {
			log.Errorf("[Reconcile] Failed to update subscription tokens for order %d: %v", order.ID, err)
		}
		return r.process(ctx, order, tx, out)
	case swedbankpay.KindCancellation, swedbankpay.KindRefund, swedbankpay.KindOther:
		return r.process(ctx, order, tx, out)
	}
	return fmt.Errorf("unhandled transaction kind %s", tx.Kind())
}

func (r *Reconciler) processVerification(ctx context.Context, gateway swedbankpay.API, order *models.Order, tx swedbankpay.Transaction, out *Outcome) error {
	switch {
	case tx.IsFailed():
		return r.apply(ctx, order, orderstate.Transition{
			To:     models.OrderStatusFailed,
			Number: tx.Number,
			Note:   fmt.Sprintf("Verification has been failed. Reason: %s.", tx.FailedDetails()),
		}, out)
	case tx.IsPending():
		// the same number completes later, so it is not stored yet
		return r.apply(ctx, order, orderstate.Transition{
			To:   models.OrderStatusAuthorized,
			Note: "Verification is pending.",
		}, out)
	}

	if err := r.apply(ctx, order, orderstate.Transition{
		To:     models.OrderStatusVerified,
		Number: tx.Number,
		Note:   "Card has been verified.",
	}, out); err != nil {
		return err
	}
	if out.Result == orderstate.Stale || !order.NeedsSaveToken {
		return nil
	}
	if err := r.saveToken(ctx, gateway, order); err != nil {
		return fmt.Errorf("saving payment token: %w", err)
	}
	out.TokenSaved = true
	return nil
}

// ProcessTransaction runs the generic transaction processor with side
// effects suppressed. The transaction must already be merged into the log.
func (r *Reconciler) ProcessTransaction(ctx context.Context, order *models.Order, tx swedbankpay.Transaction) (*Outcome, error) {
	ctx, release := hooks.Suppress(ctx)
	defer release()

	out := &Outcome{OrderID: order.ID, TransactionNumber: tx.Number, Kind: tx.Kind(), Result: orderstate.Stale}
	if tx.Number <= order.TransactionNumber {
		return out, nil
	}
	err := r.process(ctx, order, tx, out)
	out.Status = order.Status
	return out, err
}

// process maps a transaction onto an order transition. Pending outcomes and
// failed operations that do not change the order become notes.
func (r *Reconciler) process(ctx context.Context, order *models.Order, tx swedbankpay.Transaction, out *Outcome) error {
	amount := FormatAmount(tx.Amount, order.Currency)

	if tx.IsPending() {
		return r.note(ctx, order, fmt.Sprintf("Transaction %d (%s) is pending.", tx.Number, tx.Type), out)
	}

	switch tx.Kind() {
	case swedbankpay.KindVerification:
		if tx.IsFailed() {
			return r.apply(ctx, order, orderstate.Transition{To: models.OrderStatusFailed, Number: tx.Number,
				Note: fmt.Sprintf("Verification has been failed. Reason: %s.", tx.FailedDetails())}, out)
		}
		return r.apply(ctx, order, orderstate.Transition{To: models.OrderStatusVerified, Number: tx.Number,
			Note: "Card has been verified."}, out)

	case swedbankpay.KindCapture, swedbankpay.KindSale:
		if tx.IsFailed() {
			return r.note(ctx, order, fmt.Sprintf("Capture has been failed. Reason: %s.", tx.FailedDetails()), out)
		}
		return r.apply(ctx, order, orderstate.Transition{To: models.OrderStatusCaptured, Number: tx.Number,
			Note: fmt.Sprintf("Payment has been captured. Amount: %s. Transaction: %d.", amount, tx.Number)}, out)

	case swedbankpay.KindCancellation:
		if tx.IsFailed() {
			return r.note(ctx, order, fmt.Sprintf("Cancellation has been failed. Reason: %s.", tx.FailedDetails()), out)
		}
		return r.apply(ctx, order, orderstate.Transition{To: models.OrderStatusCancelled, Number: tx.Number,
			Note: fmt.Sprintf("Payment has been cancelled. Transaction: %d.", tx.Number)}, out)

	case swedbankpay.KindRefund:
		if tx.IsFailed() {
			return r.note(ctx, order, fmt.Sprintf("Refund has been failed. Reason: %s.", tx.FailedDetails()), out)
		}
		return r.apply(ctx, order, orderstate.Transition{To: models.OrderStatusRefunded, Number: tx.Number,
			Note: fmt.Sprintf("Refunded: %s. Transaction: %d.", amount, tx.Number)}, out)

	case swedbankpay.KindOther:
		if tx.Type != swedbankpay.TypeAuthorization {
			return r.note(ctx, order, fmt.Sprintf("Transaction %d has unsupported type %q.", tx.Number, tx.Type), out)
		}
		if tx.IsFailed() {
			return r.apply(ctx, order, orderstate.Transition{To: models.OrderStatusFailed, Number: tx.Number,
				Note: fmt.Sprintf("Authorization has been failed. Reason: %s.", tx.FailedDetails())}, out)
		}
		return r.apply(ctx, order, orderstate.Transition{To: models.OrderStatusAuthorized, Number: tx.Number,
			Note: fmt.Sprintf("Payment has been authorized. Amount: %s. Transaction: %d.", amount, tx.Number)}, out)
	}
	return fmt.Errorf("unhandled transaction kind %s", tx.Kind())
}

func (r *Reconciler) apply(ctx context.Context, order *models.Order, t orderstate.Transition, out *Outcome) error {
	from := order.Status
	res, err := orderstate.Apply(order, t)
	if err != nil {
		return err
	}
	out.Result = res

	note := t.Note
	switch res {
	case orderstate.Stale:
		log.Infof("[Reconcile] Stale transition to %s for order %d (number %d, last applied %d)", t.To, order.ID, t.Number, order.TransactionNumber)
		return nil
	case orderstate.Noted:
		note = fmt.Sprintf("%s Order is already %s, status unchanged.", t.Note, from)
	}

	if err := r.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if note != "" {
		if err := r.orders.AddNote(ctx, order.ID, note); err != nil {
			log.Warnf("[Reconcile] Failed to add note to order %d: %v", order.ID, err)
		}
	}
	if res == orderstate.Applied && from != order.Status {
		log.Infof("[Reconcile] Order %d: %s -> %s (transaction %d)", order.ID, from, order.Status, order.TransactionNumber)
		if err := r.hooks.Fire(ctx, order, from, order.Status); err != nil {
			log.Warnf("[Reconcile] Status change hooks failed for order %d: %v", order.ID, err)
		}
	}
	return nil
}

func (r *Reconciler) note(ctx context.Context, order *models.Order, note string, out *Outcome) error {
	out.Result = orderstate.Noted
	return r.orders.AddNote(ctx, order.ID, note)
}

// FormatAmount renders minor units as a decimal amount with currency.
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}

func toOrderTransactions(txs []swedbankpay.Transaction) []models.OrderTransaction {
	out := make([]models.OrderTransaction, 0, len(txs))
	for _, tx := range txs {
		row := models.OrderTransaction{
			TransactionID:  tx.ID,
			Number:         tx.Number,
			Type:           tx.Type,
			State:          tx.State,
			Amount:         tx.Amount,
			VatAmount:      tx.VatAmount,
			Description:    tx.Description,
			PayeeReference: tx.PayeeReference,
			FailedReason:   tx.FailedReason,
		}
		if !tx.Created.IsZero() {
			created := tx.Created
			row.ProviderCreated = &created
		}
		if !tx.Updated.IsZero() {
			updated := tx.Updated
			row.ProviderUpdated = &updated
		}
		out = append(out, row)
	}
	return out
}
