package webhook

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedJSON            = errors.New("malformed webhook JSON")
	ErrEmptyPayload             = errors.New("empty webhook payload")
	ErrMissingPaymentID         = errors.New("webhook has no payment id")
	ErrMissingTransactionID     = errors.New("webhook has no transaction id")
	ErrMissingTransactionNumber = errors.New("webhook has no transaction number")
	ErrInvalidOrderKey          = errors.New("order key does not match")
)

// Notification is the validated content of a Swedbank Pay callback.
type Notification struct {
	PaymentID         string
	PaymentNumber     int64
	TransactionID     string
	TransactionNumber int64
}

type body struct {
	Payment     *paymentRef     `json:"payment"`
	Transaction *transactionRef `json:"transaction"`
}

type paymentRef struct {
	ID     string      `json:"id"`
	Number json.Number `json:"number"`
}

type transactionRef struct {
	ID     string      `json:"id"`
	Number json.Number `json:"number"`
}

type strictNotification struct {
	PaymentID         string `validate:"required"`
	TransactionNumber int64  `validate:"gt=0"`
}

type ingressNotification struct {
	PaymentID         string `validate:"required"`
	TransactionID     string `validate:"required_without=TransactionNumber"`
	TransactionNumber int64  `validate:"required_without=TransactionID"`
}

var validate = validator.New()

// ValidateIngress is the light check run before a callback is queued: a JSON
// object with a payment id and a transaction id or number.
func ValidateIngress(raw []byte) (*Notification, error) {
	n, err := parse(raw)
	if err != nil {
		return nil, err
	}
	in := ingressNotification{
		PaymentID:         n.PaymentID,
		TransactionID:     n.TransactionID,
		TransactionNumber: n.TransactionNumber,
	}
	if err := validate.Struct(in); err != nil {
		return nil, translate(err, ErrMissingTransactionID)
	}
	return n, nil
}

// Validate is the strict check run before reconciliation: payment id and a
// positive transaction number are required.
func Validate(raw []byte) (*Notification, error) {
	n, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(strictNotification{PaymentID: n.PaymentID, TransactionNumber: n.TransactionNumber}); err != nil {
		return nil, translate(err, ErrMissingTransactionNumber)
	}
	return n, nil
}

// TransactionNumber extracts transaction.number without validating anything
// else. It returns 0 when the payload is not parseable or carries no number.
func TransactionNumber(raw []byte) int64 {
	n, err := parse(raw)
	if err != nil {
		return 0
	}
	return n.TransactionNumber
}

// VerifyOrderKey compares the key from the callback URL with the order's
// secret in constant time.
func VerifyOrderKey(expected, given string) error {
	if expected == "" || given == "" {
		return ErrInvalidOrderKey
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(given)) != 1 {
		return ErrInvalidOrderKey
	}
	return nil
}

func parse(raw []byte) (*Notification, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var b body
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	n := &Notification{}
	if b.Payment != nil {
		n.PaymentID = strings.TrimSpace(b.Payment.ID)
		n.PaymentNumber = toInt(b.Payment.Number)
	}
	if b.Transaction != nil {
		n.TransactionID = strings.TrimSpace(b.Transaction.ID)
		n.TransactionNumber = toInt(b.Transaction.Number)
	}
	return n, nil
}

func toInt(num json.Number) int64 {
	if num == "" {
		return 0
	}
	if v, err := num.Int64(); err == nil {
		return v
	}
	f, err := num.Float64()
	if err != nil || math.IsNaN(f) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int64(f)
}

// translate maps the first failing field onto a domain error.
func translate(err error, transactionErr error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	if verrs[0].Field() == "PaymentID" {
		return ErrMissingPaymentID
	}
	return transactionErr
}
