package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
)

// EventInput is the normalized input for webhook event persistence.
type EventInput struct {
	Provider    string
	OrderID     uint
	PaymentID   string
	EventID     string
	PayloadJSON string
}

// Recorder persists inbound callbacks for auditing and duplicate detection.
type Recorder struct {
	repo Repository
}

// NewRecorder creates a recorder from an injected repository.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// NewRecorderFromDB creates a recorder from a GORM DB handle.
func NewRecorderFromDB(db *gorm.DB) *Recorder {
	return NewRecorder(NewRepository(db))
}

// EventID derives the deduplication id of a callback: the transaction id,
// else the transaction number, else a hash of the payload.
func EventID(n *Notification, payload []byte) string {
	if n != nil && n.TransactionID != "" {
		return n.TransactionID
	}
	if n != nil && n.TransactionNumber > 0 {
		return "number:" + strconv.FormatInt(n.TransactionNumber, 10)
	}
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

// Record stores a callback idempotently. created is false for a redelivery,
// in which case the stored row's delivery counter is incremented.
func (r *Recorder) Record(ctx context.Context, in EventInput) (bool, *models.WebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		OrderID:         in.OrderID,
		PaymentID:       in.PaymentID,
		PayloadJSON:     in.PayloadJSON,
		DeliveryCount:   1,
	}
	created, stored, err := r.repo.CreateEventIfNotExists(ctx, event)
	if err != nil {
		return false, nil, err
	}
	if !created {
		if err := r.repo.IncrementDeliveryCount(ctx, stored.ID); err != nil {
			return false, stored, err
		}
		stored.DeliveryCount++
	}
	return created, stored, nil
}

// MarkProcessed marks an event as processed and stores an optional error.
func (r *Recorder) MarkProcessed(ctx context.Context, eventID uint, processingErr error) error {
	if eventID == 0 {
		return errors.New("webhook event id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return r.repo.MarkProcessed(ctx, eventID, errMsg)
}
