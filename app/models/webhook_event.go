package models

import "time"

const WebhookProviderSwedbankPay = "swedbankpay"

// WebhookEvent stores inbound provider callbacks with deduplication metadata.
// Duplicate deliveries of the same transaction hit the unique index and only
// bump DeliveryCount.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	OrderID         uint       `gorm:"index" json:"order_id"`
	PaymentID       string     `gorm:"type:varchar(191);index" json:"payment_id"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	DeliveryCount   int        `gorm:"not null;default:1" json:"delivery_count"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
