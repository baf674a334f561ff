package models

import "time"

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusOnHold    = "on-hold"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription is a recurring-payment agreement created from a parent order.
// Renewal orders are charged with the subscription's payment tokens.
type Subscription struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ParentOrderID uint           `gorm:"not null;index" json:"parent_order_id"`
	CustomerID    uint           `gorm:"not null;index" json:"customer_id"`
	Status        string         `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	PaymentTokens []PaymentToken `gorm:"many2many:subscription_payment_tokens;" json:"payment_tokens,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
