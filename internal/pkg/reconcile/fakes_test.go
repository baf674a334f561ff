package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
)

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[uint]*models.Order
	notes     map[uint][]string
	txs       map[uint]map[string]models.OrderTransaction
	tokens    map[uint][]models.PaymentToken
	saveErr   error
	saveTxErr error
	saves     int
	findErr   error
}

func newFakeOrders(orders ...*models.Order) *fakeOrders {
	f := &fakeOrders{
		orders: map[uint]*models.Order{},
		notes:  map[uint][]string{},
		txs:    map[uint]map[string]models.OrderTransaction{},
		tokens: map[uint][]models.PaymentToken{},
	}
	for _, o := range orders {
		cp := *o
		f.orders[o.ID] = &cp
	}
	return f
}

func (f *fakeOrders) GetByID(_ context.Context, id uint) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) FindByPaymentID(_ context.Context, paymentID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, o := range f.orders {
		if o.PaymentID == paymentID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeOrders) Save(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrders) AddNote(_ context.Context, orderID uint, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[orderID] = append(f.notes[orderID], note)
	return nil
}

func (f *fakeOrders) ListNotes(_ context.Context, orderID uint) ([]models.OrderNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OrderNote
	for i, n := range f.notes[orderID] {
		out = append(out, models.OrderNote{ID: uint(i + 1), OrderID: orderID, Note: n})
	}
	return out, nil
}

func (f *fakeOrders) SaveTransactions(_ context.Context, orderID uint, txs []models.OrderTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveTxErr != nil {
		return f.saveTxErr
	}
	if f.txs[orderID] == nil {
		f.txs[orderID] = map[string]models.OrderTransaction{}
	}
	for _, tx := range txs {
		tx.OrderID = orderID
		f.txs[orderID][tx.TransactionID] = tx
	}
	return nil
}

func (f *fakeOrders) ListTransactions(_ context.Context, orderID uint) ([]models.OrderTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OrderTransaction
	for _, tx := range f.txs[orderID] {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (f *fakeOrders) ListByStatus(_ context.Context, status models.OrderStatus, _, _ int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) GetTokens(_ context.Context, orderID uint) ([]models.PaymentToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PaymentToken(nil), f.tokens[orderID]...), nil
}

func (f *fakeOrders) AttachToken(_ context.Context, orderID uint, token *models.PaymentToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens[orderID] {
		if t.ID == token.ID {
			return nil
		}
	}
	f.tokens[orderID] = append(f.tokens[orderID], *token)
	return nil
}

func (f *fakeOrders) order(id uint) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

func (f *fakeOrders) notesOf(id uint) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notes[id]...)
}

type fakeTokens struct {
	mu     sync.Mutex
	nextID uint
	stored []models.PaymentToken
}

func (f *fakeTokens) Upsert(_ context.Context, token *models.PaymentToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.stored {
		if t.GatewayID == token.GatewayID && t.Token == token.Token && t.RecurrenceToken == token.RecurrenceToken {
			token.ID = t.ID
			f.stored[i] = *token
			return nil
		}
	}
	f.nextID++
	token.ID = f.nextID
	f.stored = append(f.stored, *token)
	return nil
}

func (f *fakeTokens) ListByCustomer(_ context.Context, customerID uint) ([]models.PaymentToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentToken
	for _, t := range f.stored {
		if t.CustomerID == customerID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeSubs struct {
	mu       sync.Mutex
	subs     []models.Subscription
	replaced []uint
}

func (f *fakeSubs) ListByParentOrder(_ context.Context, orderID uint) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, s := range f.subs {
		if s.ParentOrderID == orderID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubs) ReplaceTokens(_ context.Context, subscriptionID uint, tokens []models.PaymentToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.subs {
		if f.subs[i].ID == subscriptionID {
			f.subs[i].PaymentTokens = append([]models.PaymentToken(nil), tokens...)
			f.replaced = append(f.replaced, subscriptionID)
			return nil
		}
	}
	return errors.New("subscription not found")
}

type fakeGateway struct {
	mu                 sync.Mutex
	transactions       []swedbankpay.Transaction
	verifications      []swedbankpay.Verification
	fetchErr           error
	captureErr         error
	recurErr           error
	fetchVerifications int
	captures           int
	cancels            int
	recurring          []swedbankpay.RecurringCharge
}

func (g *fakeGateway) FetchTransactions(_ context.Context, _ string) ([]swedbankpay.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return append([]swedbankpay.Transaction(nil), g.transactions...), nil
}

func (g *fakeGateway) FetchVerifications(_ context.Context, _ string) ([]swedbankpay.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchVerifications++
	return g.verifications, nil
}

func (g *fakeGateway) Capture(_ context.Context, _ string, _, _ int64, _ string) (*swedbankpay.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &swedbankpay.Transaction{Type: swedbankpay.TypeCapture, State: swedbankpay.StateCompleted}, nil
}

func (g *fakeGateway) Cancel(_ context.Context, _, _ string) (*swedbankpay.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels++
	return &swedbankpay.Transaction{Type: swedbankpay.TypeCancellation, State: swedbankpay.StateCompleted}, nil
}

func (g *fakeGateway) InitiateRecurringCharge(_ context.Context, charge swedbankpay.RecurringCharge) (*swedbankpay.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.recurErr != nil {
		return nil, g.recurErr
	}
	g.recurring = append(g.recurring, charge)
	return &swedbankpay.Payment{ID: "/psp/creditcard/payments/renewal", Number: 1}, nil
}

type fakeMarker struct {
	mu     sync.Mutex
	marked map[uint]error
}

func (m *fakeMarker) MarkProcessed(_ context.Context, eventID uint, processingErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marked == nil {
		m.marked = map[uint]error{}
	}
	m.marked[eventID] = processingErr
	return nil
}

// fakeLocker is a non-blocking lock; held simulates a running queue.
type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquired int
}

func (l *fakeLocker) Acquire(_ context.Context) (jobqueue.Guard, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, jobqueue.ErrLockHeld
	}
	l.held = true
	l.acquired++
	return &fakeGuard{locker: l}, nil
}

func (l *fakeLocker) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

type fakeGuard struct {
	locker *fakeLocker
	once   sync.Once
}

func (g *fakeGuard) Release(_ context.Context) error {
	g.once.Do(func() {
		g.locker.mu.Lock()
		g.locker.held = false
		g.locker.mu.Unlock()
	})
	return nil
}
