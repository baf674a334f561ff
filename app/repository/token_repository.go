package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
)

type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a new payment token repository instance
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

// Upsert stores the token, refreshing card details of an existing one. The
// stored row (with its ID) is loaded back into token.
func (r *tokenRepository) Upsert(ctx context.Context, token *models.PaymentToken) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway_id"},
			{Name: "token"},
			{Name: "recurrence_token"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id",
			"card_brand",
			"masked_pan",
			"expiry_date",
			"updated_at",
		}),
	}).Create(token).Error; err != nil {
		return err
	}

	return db.Where("gateway_id = ? AND token = ? AND recurrence_token = ?",
		token.GatewayID, token.Token, token.RecurrenceToken).First(token).Error
}

// ListByCustomer returns all tokens of a customer
func (r *tokenRepository) ListByCustomer(ctx context.Context, customerID uint) ([]models.PaymentToken, error) {
	var tokens []models.PaymentToken
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("id ASC").Find(&tokens).Error
	return tokens, err
}
