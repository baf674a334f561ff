package controllers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/webhook"
)

type fakeOrderRepo struct {
	repository.OrderRepository
	orders map[uint]*models.Order
	notes  map[uint][]models.OrderNote
	err    error
}

func (f *fakeOrderRepo) GetByID(_ context.Context, id uint) (*models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) ListByStatus(_ context.Context, status models.OrderStatus, offset, limit int) ([]models.Order, error) {
	var out []models.Order
	for id := uint(1); id <= uint(len(f.orders)); id++ {
		if o, ok := f.orders[id]; ok && o.Status == status {
			out = append(out, *o)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOrderRepo) ListNotes(_ context.Context, orderID uint) ([]models.OrderNote, error) {
	return f.notes[orderID], nil
}

func (f *fakeOrderRepo) ListTransactions(context.Context, uint) ([]models.OrderTransaction, error) {
	return []models.OrderTransaction{{TransactionID: "/t/1", Number: 1, Type: "Authorization", State: "Completed"}}, nil
}

type fakeTokenRepo struct {
	repository.TokenRepository
	tokens []models.PaymentToken
	err    error
}

func (f *fakeTokenRepo) ListByCustomer(_ context.Context, customerID uint) ([]models.PaymentToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PaymentToken
	for _, t := range f.tokens {
		if t.CustomerID == customerID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeQueue struct {
	mu          sync.Mutex
	pushed      []jobqueue.Payload
	pushErr     error
	dispatchErr error
	dispatched  int
	stats       jobqueue.Stats
}

func (q *fakeQueue) Push(_ context.Context, payload jobqueue.Payload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return "", q.pushErr
	}
	q.pushed = append(q.pushed, payload)
	return jobqueue.NewJobKey(jobqueue.JobKeyPrefix), nil
}

func (q *fakeQueue) Dispatch(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatched++
	return q.dispatchErr
}

func (q *fakeQueue) Stats(context.Context) (jobqueue.Stats, error) {
	return q.stats, nil
}

type fakeRecorder struct {
	inputs []webhook.EventInput
	seen   map[string]*models.WebhookEvent
	err    error
}

func (r *fakeRecorder) Record(_ context.Context, in webhook.EventInput) (bool, *models.WebhookEvent, error) {
	if r.err != nil {
		return false, nil, r.err
	}
	r.inputs = append(r.inputs, in)
	if r.seen == nil {
		r.seen = map[string]*models.WebhookEvent{}
	}
	if ev, ok := r.seen[in.EventID]; ok {
		ev.DeliveryCount++
		return false, ev, nil
	}
	ev := &models.WebhookEvent{ID: uint(len(r.seen) + 5), ProviderEventID: in.EventID, DeliveryCount: 1}
	r.seen[in.EventID] = ev
	return true, ev, nil
}

type fakeArchiver struct {
	keys []string
	err  error
}

func (a *fakeArchiver) Archive(_ context.Context, orderID uint, eventID string, _ []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, eventID)
	return "webhooks/" + eventID + ".json", nil
}

type fakeOperator struct {
	order      *models.Order
	err        error
	renewalErr error
	renewals   []int64
}

func (o *fakeOperator) ChangeStatus(_ context.Context, orderID uint, to models.OrderStatus) (*models.Order, error) {
	if o.err != nil {
		return o.order, o.err
	}
	cp := *o.order
	cp.Status = to
	return &cp, nil
}

func (o *fakeOperator) ChargeRenewal(_ context.Context, _ uint, amount int64) error {
	o.renewals = append(o.renewals, amount)
	return o.renewalErr
}

type fakeQueueRepo struct {
	keys []string
	jobs map[string]string
	ttl  time.Duration
}

func (r *fakeQueueRepo) ListJobKeys(_ context.Context, offset, limit int64) ([]string, error) {
	if offset >= int64(len(r.keys)) {
		return nil, nil
	}
	end := int64(len(r.keys))
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return r.keys[offset:end], nil
}

func (r *fakeQueueRepo) GetJobData(_ context.Context, key string) (string, error) {
	data, ok := r.jobs[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return data, nil
}

func (r *fakeQueueRepo) GetLockTTL(context.Context) (time.Duration, error) {
	return r.ttl, nil
}

func (r *fakeQueueRepo) GetSequence(context.Context) (int64, error) {
	return int64(len(r.keys)), nil
}

type fakeSettingRepo struct {
	repository.SettingRepository
	stored map[string]*models.GatewaySettings
}

func (r *fakeSettingRepo) GetGatewaySettings(method string) (*models.GatewaySettings, error) {
	if gs, ok := r.stored[method]; ok {
		cp := *gs
		return &cp, nil
	}
	return models.DefaultGatewaySettings(method), nil
}

func (r *fakeSettingRepo) SaveGatewaySettings(gs *models.GatewaySettings) error {
	if err := gs.Validate(); err != nil {
		return errors.New("validation failed: " + err.Error())
	}
	cp := *gs
	r.stored[gs.PaymentMethodID] = &cp
	return nil
}

type fakeRegistrar struct {
	registered map[string]swedbankpay.API
}

func (r *fakeRegistrar) Register(method string, api swedbankpay.API) {
	if r.registered == nil {
		r.registered = map[string]swedbankpay.API{}
	}
	r.registered[method] = api
}
