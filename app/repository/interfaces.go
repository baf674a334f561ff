package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// OrderRepository defines the order operations used by reconciliation and the admin API
type OrderRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	Save(ctx context.Context, order *models.Order) error
	AddNote(ctx context.Context, orderID uint, note string) error
	ListNotes(ctx context.Context, orderID uint) ([]models.OrderNote, error)
	SaveTransactions(ctx context.Context, orderID uint, txs []models.OrderTransaction) error
	ListTransactions(ctx context.Context, orderID uint) ([]models.OrderTransaction, error)
	ListByStatus(ctx context.Context, status models.OrderStatus, offset, limit int) ([]models.Order, error)
	GetTokens(ctx context.Context, orderID uint) ([]models.PaymentToken, error)
	AttachToken(ctx context.Context, orderID uint, token *models.PaymentToken) error
}

// TokenRepository defines the payment token operations
type TokenRepository interface {
	Upsert(ctx context.Context, token *models.PaymentToken) error
	ListByCustomer(ctx context.Context, customerID uint) ([]models.PaymentToken, error)
}

// SubscriptionRepository defines the subscription operations
type SubscriptionRepository interface {
	ListByParentOrder(ctx context.Context, orderID uint) ([]models.Subscription, error)
	ReplaceTokens(ctx context.Context, subscriptionID uint, tokens []models.PaymentToken) error
}

// SettingRepository defines the interface for gateway settings
type SettingRepository interface {
	GetGatewaySettings(paymentMethodID string) (*models.GatewaySettings, error)
	SaveGatewaySettings(gs *models.GatewaySettings) error
}

// QueueRepository defines read access to the Redis job store for the admin API
type QueueRepository interface {
	ListJobKeys(ctx context.Context, offset, limit int64) ([]string, error)
	GetJobData(ctx context.Context, key string) (string, error)
	GetLockTTL(ctx context.Context) (time.Duration, error)
	GetSequence(ctx context.Context) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Order        OrderRepository
	Token        TokenRepository
	Subscription SubscriptionRepository
	Setting      SettingRepository
	Queue        QueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:        NewOrderRepository(db),
		Token:        NewTokenRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Setting:      NewSettingRepository(db),
		Queue:        NewQueueRepository(),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
