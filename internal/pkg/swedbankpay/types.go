package swedbankpay

import (
	"context"
	"time"
)

// Provider transaction types as reported in the transaction list.
const (
	TypeAuthorization = "Authorization"
	TypeVerification  = "Verification"
	TypeCapture       = "Capture"
	TypeSale          = "Sale"
	TypeCancellation  = "Cancellation"
	TypeReversal      = "Reversal"
)

// Provider transaction states.
const (
	StateInitialized      = "Initialized"
	StateCompleted        = "Completed"
	StateFailed           = "Failed"
	StateAwaitingActivity = "AwaitingActivity"
)

// TransactionKind is the closed set of transaction variants the reconciler
// dispatches on. Every switch over it must handle all six values.
type TransactionKind int

const (
	KindOther TransactionKind = iota
	KindVerification
	KindCapture
	KindSale
	KindCancellation
	KindRefund
)

func (k TransactionKind) String() string {
	switch k {
	case KindVerification:
		return "verification"
	case KindCapture:
		return "capture"
	case KindSale:
		return "sale"
	case KindCancellation:
		return "cancellation"
	case KindRefund:
		return "refund"
	default:
		return "other"
	}
}

// Transaction is one entry of a payment's transaction list.
type Transaction struct {
	ID             string    `json:"id"`
	Created        time.Time `json:"created"`
	Updated        time.Time `json:"updated"`
	Type           string    `json:"type"`
	State          string    `json:"state"`
	Number         int64     `json:"number"`
	Amount         int64     `json:"amount"`
	VatAmount      int64     `json:"vatAmount"`
	Description    string    `json:"description"`
	PayeeReference string    `json:"payeeReference"`
	FailedReason   string    `json:"failedReason"`
	IsOperational  bool      `json:"isOperational"`
}

// Kind maps the provider type onto the closed variant.
func (t Transaction) Kind() TransactionKind {
	switch t.Type {
	case TypeVerification:
		return KindVerification
	case TypeCapture:
		return KindCapture
	case TypeSale:
		return KindSale
	case TypeCancellation:
		return KindCancellation
	case TypeReversal:
		return KindRefund
	default:
		return KindOther
	}
}

func (t Transaction) IsFailed() bool {
	return t.State == StateFailed
}

func (t Transaction) IsPending() bool {
	return t.State == StateInitialized || t.State == StateAwaitingActivity
}

func (t Transaction) IsCompleted() bool {
	return t.State == StateCompleted
}

// FailedDetails returns a human readable failure reason.
func (t Transaction) FailedDetails() string {
	if t.FailedReason == "" {
		return "unknown"
	}
	return t.FailedReason
}

// FindByNumber returns the transaction with the given number.
func FindByNumber(list []Transaction, number int64) (Transaction, bool) {
	for _, tx := range list {
		if tx.Number == number {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Verification is a card verification carrying the tokens to store.
type Verification struct {
	ID              string      `json:"id"`
	PaymentToken    string      `json:"paymentToken"`
	RecurrenceToken string      `json:"recurrenceToken"`
	CardBrand       string      `json:"cardBrand"`
	MaskedPan       string      `json:"maskedPan"`
	ExpiryDate      string      `json:"expiryDate"`
	Transaction     Transaction `json:"transaction"`
}

// HasToken reports whether the verification carries a reusable token.
func (v Verification) HasToken() bool {
	return v.PaymentToken != "" || v.RecurrenceToken != ""
}

// FirstTokenized returns the first verification carrying a token.
func FirstTokenized(list []Verification) (Verification, bool) {
	for _, v := range list {
		if v.HasToken() {
			return v, true
		}
	}
	return Verification{}, false
}

// RecurringCharge is the input of a merchant initiated charge.
type RecurringCharge struct {
	OrderID         uint
	PaymentToken    string
	RecurrenceToken string
	Amount          int64
	VatAmount       int64
	Currency        string
	Description     string
	PayeeReference  string
}

// Payment is the subset of a payment resource the service needs.
type Payment struct {
	ID     string `json:"id"`
	Number int64  `json:"number"`
	State  string `json:"state"`
}

// API is the provider surface the queue and the operator hooks depend on.
type API interface {
	FetchTransactions(ctx context.Context, paymentID string) ([]Transaction, error)
	FetchVerifications(ctx context.Context, paymentID string) ([]Verification, error)
	Capture(ctx context.Context, paymentID string, amount, vatAmount int64, payeeReference string) (*Transaction, error)
	Cancel(ctx context.Context, paymentID, payeeReference string) (*Transaction, error)
	InitiateRecurringCharge(ctx context.Context, charge RecurringCharge) (*Payment, error)
}
