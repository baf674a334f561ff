package models

import "time"

// PaymentToken is a stored card instrument usable for later (recurring) charges.
type PaymentToken struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CustomerID      uint      `gorm:"not null;index" json:"customer_id"`
	GatewayID       string    `gorm:"type:varchar(64);not null;index:ux_payment_tokens_gateway_tokens,unique,priority:1" json:"gateway_id"`
	Token           string    `gorm:"type:varchar(191);not null;default:'';index:ux_payment_tokens_gateway_tokens,unique,priority:2" json:"token"`
	RecurrenceToken string    `gorm:"type:varchar(191);not null;default:'';index:ux_payment_tokens_gateway_tokens,unique,priority:3" json:"recurrence_token"`
	CardBrand       string    `gorm:"type:varchar(32)" json:"card_brand"`
	MaskedPan       string    `gorm:"type:varchar(32)" json:"masked_pan"`
	ExpiryDate      string    `gorm:"type:varchar(16)" json:"expiry_date"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasToken reports whether the instrument can be charged without the customer.
func (t PaymentToken) HasToken() bool {
	return t.Token != "" || t.RecurrenceToken != ""
}
