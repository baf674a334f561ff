package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/hooks"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/orderstate"
)

var ErrInvalidStatus = errors.New("invalid order status")

// ChangeStatus is the operator path: it sets the status directly, records a
// note and fires the status change hooks. When a hook fails the order has
// already been rolled back by it and the hook error is returned. It fails
// with jobqueue.ErrLockHeld while the queue is running.
func (r *Reconciler) ChangeStatus(ctx context.Context, orderID uint, to models.OrderStatus) (*models.Order, error) {
	if !orderstate.Valid(to) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
		}
		return nil, err
	}

	from := order.Status
	if from == to {
		return order, nil
	}
	order.Status = to
	if err := r.orders.Save(ctx, order); err != nil {
		return nil, err
	}
	if err := r.orders.AddNote(ctx, order.ID, fmt.Sprintf("Order status changed from %s to %s by operator.", from, to)); err != nil {
		log.Warnf("[Reconcile] Failed to add note to order %d: %v", order.ID, err)
	}

	if err := r.hooks.Fire(ctx, order, from, to); err != nil {
		return order, err
	}
	return order, nil
}

// StatusListener captures or cancels the provider payment when an operator
// moves an authorized order to captured or cancelled. On failure the order is
// put back to its previous status.
func (r *Reconciler) StatusListener() hooks.StatusChangeListener {
	return func(ctx context.Context, order *models.Order, from, to models.OrderStatus) error {
		if from != models.OrderStatusAuthorized || order.PaymentID == "" {
			return nil
		}
		if to != models.OrderStatusCaptured && to != models.OrderStatusCancelled {
			return nil
		}

		gateway, err := r.gateways.Get(order.PaymentMethodID)
		if err == nil {
			if to == models.OrderStatusCaptured {
				_, err = gateway.Capture(ctx, order.PaymentID, order.Total, 0, payeeReference(order.ID))
			} else {
				_, err = gateway.Cancel(ctx, order.PaymentID, payeeReference(order.ID))
			}
		}

		action := "capture"
		if to == models.OrderStatusCancelled {
			action = "cancel"
		}
		if err != nil {
			metrics.GatewayErrors.WithLabelValues(action).Inc()
			order.Status = from
			if serr := r.orders.Save(ctx, order); serr != nil {
				log.Errorf("[Reconcile] Failed to roll back order %d: %v", order.ID, serr)
			}
			if nerr := r.orders.AddNote(ctx, order.ID, fmt.Sprintf("Unable to %s payment: %v. Status reverted to %s.", action, err, from)); nerr != nil {
				log.Warnf("[Reconcile] Failed to add note to order %d: %v", order.ID, nerr)
			}
			return fmt.Errorf("%s payment: %w", action, err)
		}

		log.Infof("[Reconcile] Order %d: provider %s requested", order.ID, action)
		return nil
	}
}
