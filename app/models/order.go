package models

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus is the local lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusAuthorized       OrderStatus = "authorized"
	OrderStatusVerified         OrderStatus = "verified"
	OrderStatusCaptured         OrderStatus = "captured"
	OrderStatusCancelled        OrderStatus = "cancelled"
	OrderStatusRefunded         OrderStatus = "refunded"
	OrderStatusFailed           OrderStatus = "failed"
	OrderStatusManualProcessing OrderStatus = "manual-processing"
)

// Order is the merchant order a Swedbank Pay payment belongs to.
// TransactionNumber is the highest provider transaction number applied so far.
type Order struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	OrderKey          string         `gorm:"type:varchar(64);not null" json:"-"`
	PaymentMethodID   string         `gorm:"type:varchar(64);not null;index" json:"payment_method_id"`
	PaymentID         string         `gorm:"type:varchar(191);index" json:"payment_id"`
	CustomerID        uint           `gorm:"index" json:"customer_id"`
	ParentOrderID     *uint          `gorm:"index" json:"parent_order_id,omitempty"`
	Status            OrderStatus    `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	TransactionNumber int64          `gorm:"not null;default:0" json:"transaction_number"`
	NeedsSaveToken    bool           `gorm:"default:false" json:"needs_save_token"`
	Currency          string         `gorm:"type:varchar(3);not null;default:'SEK'" json:"currency"`
	Total             int64          `gorm:"not null;default:0" json:"total"` // minor units
	PaymentTokens     []PaymentToken `gorm:"many2many:order_payment_tokens;" json:"payment_tokens,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

// OrderNote is an append-only audit entry attached to an order.
type OrderNote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uint      `gorm:"not null;index" json:"order_id"`
	Note      string    `gorm:"type:text;not null" json:"note"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
