package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// GetByID retrieves an order by its ID
func (r *orderRepository) GetByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// FindByPaymentID retrieves the order a Swedbank Pay payment belongs to
func (r *orderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("id DESC").First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// Save persists the order columns without touching associations
func (r *orderRepository) Save(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(order).Error
}

// AddNote appends a note to the order
func (r *orderRepository) AddNote(ctx context.Context, orderID uint, note string) error {
	return r.db.WithContext(ctx).Create(&models.OrderNote{OrderID: orderID, Note: note}).Error
}

// ListNotes returns the notes of an order, oldest first
func (r *orderRepository) ListNotes(ctx context.Context, orderID uint) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&notes).Error
	return notes, err
}

// SaveTransactions merges the provider transaction list into the order's log
func (r *orderRepository) SaveTransactions(ctx context.Context, orderID uint, txs []models.OrderTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	for i := range txs {
		txs[i].OrderID = orderID
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "order_id"},
			{Name: "transaction_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"number",
			"type",
			"state",
			"amount",
			"vat_amount",
			"description",
			"payee_reference",
			"failed_reason",
			"provider_created",
			"provider_updated",
			"updated_at",
		}),
	}).Create(&txs).Error
}

// ListTransactions returns the stored transaction log ordered by number
func (r *orderRepository) ListTransactions(ctx context.Context, orderID uint) ([]models.OrderTransaction, error) {
	var txs []models.OrderTransaction
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("number ASC").Find(&txs).Error
	return txs, err
}

// ListByStatus returns orders in the given status, newest first
func (r *orderRepository) ListByStatus(ctx context.Context, status models.OrderStatus, offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("updated_at DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&orders).Error
	return orders, err
}

// GetTokens returns the payment tokens attached to the order
func (r *orderRepository) GetTokens(ctx context.Context, orderID uint) ([]models.PaymentToken, error) {
	var tokens []models.PaymentToken
	err := r.db.WithContext(ctx).Model(&models.Order{ID: orderID}).Association("PaymentTokens").Find(&tokens)
	return tokens, err
}

// AttachToken links a stored token to the order
func (r *orderRepository) AttachToken(ctx context.Context, orderID uint, token *models.PaymentToken) error {
	return r.db.WithContext(ctx).Model(&models.Order{ID: orderID}).Association("PaymentTokens").Append(token)
}
