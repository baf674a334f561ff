package models

import "time"

// OrderTransaction mirrors one entry of the provider transaction list.
// Rows are merged on (order_id, transaction_id) every time the list is fetched.
type OrderTransaction struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	OrderID         uint       `gorm:"not null;index:ux_order_transactions_order_tx,unique,priority:1" json:"order_id"`
	TransactionID   string     `gorm:"type:varchar(191);not null;index:ux_order_transactions_order_tx,unique,priority:2" json:"transaction_id"`
	Number          int64      `gorm:"not null;index" json:"number"`
	Type            string     `gorm:"type:varchar(32);not null" json:"type"`
	State           string     `gorm:"type:varchar(32);not null" json:"state"`
	Amount          int64      `json:"amount"`
	VatAmount       int64      `json:"vat_amount"`
	Description     string     `gorm:"type:varchar(255)" json:"description"`
	PayeeReference  string     `gorm:"type:varchar(64)" json:"payee_reference"`
	FailedReason    string     `gorm:"type:text" json:"failed_reason"`
	ProviderCreated *time.Time `json:"provider_created,omitempty"`
	ProviderUpdated *time.Time `json:"provider_updated,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
