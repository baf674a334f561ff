package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a key/value configuration entry
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GatewaySettings holds the credentials and behaviour of one Swedbank Pay
// payment method. Stored as settings rows keyed "gateway.<method>.<field>".
type GatewaySettings struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required,max=64"`
	Enabled         bool   `json:"enabled"`
	AccessToken     string `json:"-" validate:"required_if=Enabled true"`
	PayeeID         string `json:"payee_id" validate:"required_if=Enabled true"`
	PayeeName       string `json:"payee_name" validate:"max=255"`
	TestMode        bool   `json:"test_mode"`
	AutoCapture     bool   `json:"auto_capture"`
	Culture         string `json:"culture" validate:"omitempty,oneof=en-US sv-SE nb-NO da-DK fi-FI"`
}

var gatewaySettingFields = []string{
	"enabled", "access_token", "payee_id", "payee_name", "test_mode", "auto_capture", "culture",
}

// GatewaySettingKey builds the settings key of a gateway field.
func GatewaySettingKey(paymentMethodID, field string) string {
	return fmt.Sprintf("gateway.%s.%s", paymentMethodID, field)
}

// DefaultGatewaySettings are used for fields without a stored row.
func DefaultGatewaySettings(paymentMethodID string) *GatewaySettings {
	return &GatewaySettings{
		PaymentMethodID: paymentMethodID,
		Enabled:         true,
		TestMode:        true,
		Culture:         "en-US",
	}
}

// LoadGatewaySettings reads the stored fields of a payment method on top of the defaults.
func LoadGatewaySettings(db *gorm.DB, paymentMethodID string) (*GatewaySettings, error) {
	gs := DefaultGatewaySettings(paymentMethodID)

	var rows []Setting
	if err := db.Where("setting_key LIKE ?", GatewaySettingKey(paymentMethodID, "%")).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load gateway settings: %w", err)
	}

	prefix := GatewaySettingKey(paymentMethodID, "")
	for _, row := range rows {
		gs.apply(strings.TrimPrefix(row.Key, prefix), row.Value)
	}
	return gs, nil
}

// SaveGatewaySettings validates and upserts every field of gs.
func SaveGatewaySettings(db *gorm.DB, gs *GatewaySettings) error {
	if err := gs.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	values := gs.values()
	for _, field := range gatewaySettingFields {
		key := GatewaySettingKey(gs.PaymentMethodID, field)

		var setting Setting
		err := db.Where("setting_key = ?", key).First(&setting).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			setting = Setting{Key: key, Value: values[field], Type: getSettingType(field)}
			if err := db.Create(&setting).Error; err != nil {
				return fmt.Errorf("failed to create setting %s: %w", key, err)
			}
		case err != nil:
			return fmt.Errorf("failed to query setting %s: %w", key, err)
		default:
			setting.Value = values[field]
			if err := db.Save(&setting).Error; err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
	}
	return nil
}

// Validate validates the settings
func (gs *GatewaySettings) Validate() error {
	return validator.New().Struct(gs)
}

func (gs *GatewaySettings) apply(field, value string) {
	switch field {
	case "enabled":
		gs.Enabled = value == "true"
	case "access_token":
		gs.AccessToken = value
	case "payee_id":
		gs.PayeeID = value
	case "payee_name":
		gs.PayeeName = value
	case "test_mode":
		gs.TestMode = value == "true"
	case "auto_capture":
		gs.AutoCapture = value == "true"
	case "culture":
		gs.Culture = value
	}
}

func (gs *GatewaySettings) values() map[string]string {
	return map[string]string{
		"enabled":      fmt.Sprintf("%t", gs.Enabled),
		"access_token": gs.AccessToken,
		"payee_id":     gs.PayeeID,
		"payee_name":   gs.PayeeName,
		"test_mode":    fmt.Sprintf("%t", gs.TestMode),
		"auto_capture": fmt.Sprintf("%t", gs.AutoCapture),
		"culture":      gs.Culture,
	}
}

// getSettingType returns the type of a setting based on its field
func getSettingType(field string) string {
	switch field {
	case "enabled", "test_mode", "auto_capture":
		return "boolean"
	default:
		return "string"
	}
}
