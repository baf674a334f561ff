package reconcile

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/webhook"
)

// EventMarker records the processing result on the ingress audit row.
type EventMarker interface {
	MarkProcessed(ctx context.Context, eventID uint, processingErr error) error
}

// Task is the queue handler. Every failure except storage outages and panics
// drops the job; the provider redelivers callbacks that matter.
type Task struct {
	reconciler *Reconciler
	events     EventMarker
}

// NewTask creates the queue handler. events may be nil.
func NewTask(reconciler *Reconciler, events EventMarker) *Task {
	return &Task{reconciler: reconciler, events: events}
}

func (t *Task) Handle(ctx context.Context, job jobqueue.Job) (result jobqueue.HandlerResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("[Reconcile] Job %s panicked: %v", job.Key, rec)
			result = jobqueue.ResultRetry
		}
	}()

	n, err := webhook.Validate([]byte(job.Payload.WebhookData))
	if err != nil {
		log.Errorf("[Reconcile] Job %s: invalid webhook data: %v", job.Key, err)
		t.mark(ctx, job, err)
		return jobqueue.ResultDone
	}

	out, err := t.reconciler.Reconcile(ctx, job.Payload.PaymentMethodID, n)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			log.Warnf("[Reconcile] Job %s interrupted: %v", job.Key, err)
			return jobqueue.ResultRetry
		case errors.Is(err, ErrStorage):
			log.Errorf("[Reconcile] Job %s: %v, keeping for retry", job.Key, err)
			return jobqueue.ResultRetry
		case errors.Is(err, ErrGatewayUnavailable):
			log.Warnf("[Reconcile] Job %s dropped: %v", job.Key, err)
		case errors.Is(err, swedbankpay.ErrUnknownPaymentMethod):
			log.Errorf("[Reconcile] Job %s dropped: payment method %q: %v", job.Key, job.Payload.PaymentMethodID, err)
		default:
			log.Errorf("[Reconcile] Job %s dropped: %v", job.Key, err)
		}
		t.mark(ctx, job, err)
		return jobqueue.ResultDone
	}

	log.Infof("[Reconcile] Job %s: order %d, transaction %d (%s) %s, status %s",
		job.Key, out.OrderID, out.TransactionNumber, out.Kind, out.Result, out.Status)
	t.mark(ctx, job, nil)
	return jobqueue.ResultDone
}

func (t *Task) mark(ctx context.Context, job jobqueue.Job, processingErr error) {
	if t.events == nil || job.Payload.WebhookEventID == 0 {
		return
	}
	if err := t.events.MarkProcessed(ctx, job.Payload.WebhookEventID, processingErr); err != nil {
		log.Warnf("[Reconcile] Failed to mark webhook event %d processed: %v", job.Payload.WebhookEventID, err)
	}
}
