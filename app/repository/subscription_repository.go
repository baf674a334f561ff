package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// ListByParentOrder returns the subscriptions created from an order, with their tokens
func (r *subscriptionRepository) ListByParentOrder(ctx context.Context, orderID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Preload("PaymentTokens").
		Where("parent_order_id = ?", orderID).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

// ReplaceTokens sets the subscription's tokens to exactly the given set
func (r *subscriptionRepository) ReplaceTokens(ctx context.Context, subscriptionID uint, tokens []models.PaymentToken) error {
	return r.db.WithContext(ctx).Model(&models.Subscription{ID: subscriptionID}).Association("PaymentTokens").Replace(tokens)
}
