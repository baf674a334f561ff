package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
)

// settingRepository implements the SettingRepository interface
type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new setting repository instance
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// GetGatewaySettings loads the settings of one payment method
func (r *settingRepository) GetGatewaySettings(paymentMethodID string) (*models.GatewaySettings, error) {
	return models.LoadGatewaySettings(r.db, paymentMethodID)
}

// SaveGatewaySettings validates and stores the settings of one payment method
func (r *settingRepository) SaveGatewaySettings(gs *models.GatewaySettings) error {
	return models.SaveGatewaySettings(r.db, gs)
}
