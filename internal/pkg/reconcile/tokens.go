package reconcile

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
)

// saveToken stores the first tokenized verification of the order's payment
// and attaches it to the order.
func (r *Reconciler) saveToken(ctx context.Context, gateway swedbankpay.API, order *models.Order) error {
	verifications, err := gateway.FetchVerifications(ctx, order.PaymentID)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("fetch_verifications").Inc()
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	v, ok := swedbankpay.FirstTokenized(verifications)
	if !ok {
		log.Debugf("[Reconcile] Payment %s has no tokenized verification", order.PaymentID)
		return nil
	}

	token := &models.PaymentToken{
		CustomerID:      order.CustomerID,
		GatewayID:       order.PaymentMethodID,
		Token:           v.PaymentToken,
		RecurrenceToken: v.RecurrenceToken,
		CardBrand:       v.CardBrand,
		MaskedPan:       v.MaskedPan,
		ExpiryDate:      v.ExpiryDate,
	}
	if err := r.tokens.Upsert(ctx, token); err != nil {
		return err
	}
	if err := r.orders.AttachToken(ctx, order.ID, token); err != nil {
		return err
	}

	order.NeedsSaveToken = false
	if err := r.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	log.Infof("[Reconcile] Saved payment token %d (%s %s) for order %d", token.ID, token.CardBrand, token.MaskedPan, order.ID)
	return nil
}

// updateSubscriptionTokens gives every subscription of the order the order's
// token set. Subscriptions that already hold the same set are left alone.
func (r *Reconciler) updateSubscriptionTokens(ctx context.Context, order *models.Order) error {
	tokens, err := r.orders.GetTokens(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	parentID := order.ID
	if order.ParentOrderID != nil {
		parentID = *order.ParentOrderID
	}
	subs, err := r.subs.ListByParentOrder(ctx, parentID)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if SameTokenSet(sub.PaymentTokens, tokens) {
			continue
		}
		if err := r.subs.ReplaceTokens(ctx, sub.ID, tokens); err != nil {
			return fmt.Errorf("subscription %d: %w", sub.ID, err)
		}
		log.Infof("[Reconcile] Replaced payment tokens of subscription %d from order %d", sub.ID, order.ID)
	}
	return nil
}

// SameTokenSet reports whether both lists hold the same token IDs.
func SameTokenSet(a, b []models.PaymentToken) bool {
	ids := make(map[uint]struct{}, len(a))
	for _, t := range a {
		ids[t.ID] = struct{}{}
	}
	other := make(map[uint]struct{}, len(b))
	for _, t := range b {
		if _, ok := ids[t.ID]; !ok {
			return false
		}
		other[t.ID] = struct{}{}
	}
	return len(ids) == len(other)
}
