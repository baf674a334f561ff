package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/archive"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/webhook"
)

// JobQueue is the part of the queue manager the HTTP layer talks to.
type JobQueue interface {
	Push(ctx context.Context, payload jobqueue.Payload) (string, error)
	Dispatch(ctx context.Context) error
}

// EventRecorder persists inbound callbacks.
type EventRecorder interface {
	Record(ctx context.Context, in webhook.EventInput) (bool, *models.WebhookEvent, error)
}

// WebhookController receives Swedbank Pay callbacks and queues them
type WebhookController struct {
	orders   repository.OrderRepository
	recorder EventRecorder
	queue    JobQueue
	archiver archive.Archiver
}

// NewWebhookController creates the callback controller. recorder and
// archiver may be nil.
func NewWebhookController(orders repository.OrderRepository, recorder EventRecorder, queue JobQueue, archiver archive.Archiver) *WebhookController {
	return &WebhookController{
		orders:   orders,
		recorder: recorder,
		queue:    queue,
		archiver: archiver,
	}
}

// HandleCallback validates, records and enqueues a callback, then asks the
// queue to run. The provider only needs a 2xx, so rejected callbacks are
// acknowledged and logged.
func (wc *WebhookController) HandleCallback(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := webhook.ValidateIngress(rawBody)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedJSON) || errors.Is(err, webhook.ErrEmptyPayload) {
			log.Warnf("[Webhook] Rejected callback: %v", err)
			metrics.WebhooksReceived.WithLabelValues("rejected").Inc()
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		return wc.ignore(c, "invalid callback: %v", err)
	}

	orderID := c.QueryInt("order_id", 0)
	if orderID <= 0 {
		return wc.ignore(c, "missing order_id for payment %s", n.PaymentID)
	}
	order, err := wc.orders.GetByID(ctx, uint(orderID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return wc.ignore(c, "order %d not found", orderID)
		}
		log.Errorf("[Webhook] Failed to load order %d: %v", orderID, err)
		metrics.WebhooksReceived.WithLabelValues("error").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_lookup_failed"})
	}
	if err := webhook.VerifyOrderKey(order.OrderKey, c.Query("key")); err != nil {
		return wc.ignore(c, "order %d: %v", order.ID, err)
	}

	eventID := webhook.EventID(n, rawBody)
	var storedID uint
	if wc.recorder != nil {
		created, stored, err := wc.recorder.Record(ctx, webhook.EventInput{
			Provider:    models.WebhookProviderSwedbankPay,
			OrderID:     order.ID,
			PaymentID:   n.PaymentID,
			EventID:     eventID,
			PayloadJSON: string(rawBody),
		})
		switch {
		case err != nil:
			log.Errorf("[Webhook] Failed to record callback for order %d: %v", order.ID, err)
		case !created:
			// redeliveries are still queued, the state machine drops stale ones
			log.Infof("[Webhook] Duplicate delivery %s for order %d (%d deliveries)", eventID, order.ID, stored.DeliveryCount)
			storedID = stored.ID
		default:
			storedID = stored.ID
		}
	}

	if wc.archiver != nil {
		if key, err := wc.archiver.Archive(ctx, order.ID, eventID, rawBody); err != nil {
			log.Warnf("[Webhook] Failed to archive callback for order %d: %v", order.ID, err)
		} else {
			log.Debugf("[Webhook] Archived callback for order %d as %s", order.ID, key)
		}
	}

	if _, err := wc.queue.Push(ctx, jobqueue.Payload{
		PaymentMethodID: order.PaymentMethodID,
		WebhookData:     string(rawBody),
		WebhookEventID:  storedID,
	}); err != nil {
		log.Errorf("[Webhook] Failed to enqueue callback for order %d: %v", order.ID, err)
		metrics.WebhooksReceived.WithLabelValues("error").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
	}
	log.Infof("[Webhook] Task enqueued. Transaction ID: %d", n.TransactionNumber)
	metrics.WebhooksReceived.WithLabelValues("queued").Inc()

	if err := wc.queue.Dispatch(ctx); err != nil {
		if errors.Is(err, jobqueue.ErrLockHeld) {
			log.Debugf("[Webhook] %v", err)
		} else {
			log.Warnf("[Webhook] Dispatch failed: %v", err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "queued"})
}

func (wc *WebhookController) ignore(c *fiber.Ctx, format string, args ...interface{}) error {
	log.Warnf("[Webhook] Ignored callback: "+format, args...)
	metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ignored"})
}
