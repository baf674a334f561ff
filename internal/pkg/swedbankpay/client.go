package swedbankpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
)

const (
	defaultTestBaseURL = "https://api.externalintegration.payex.com"
	defaultLiveBaseURL = "https://api.payex.com"

	maxResponseBytes = 1 << 20
)

// APIError is returned for non-2xx provider responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("swedbank pay %s %s failed: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the Swedbank Pay card payments API for one payee.
type Client struct {
	PaymentMethodID string
	AccessToken     string
	PayeeID         string
	PayeeName       string
	BaseURL         string
	Culture         string
	AutoCapture     bool

	HTTPClient *http.Client
}

// NewClient builds a client from stored gateway settings. SWEDBANKPAY_BASE_URL
// overrides the mode dependent endpoint.
func NewClient(gs *models.GatewaySettings) *Client {
	base := defaultLiveBaseURL
	if gs.TestMode {
		base = defaultTestBaseURL
	}
	base = strings.TrimRight(env.GetEnv("SWEDBANKPAY_BASE_URL", base), "/")

	return &Client{
		PaymentMethodID: gs.PaymentMethodID,
		AccessToken:     strings.TrimSpace(gs.AccessToken),
		PayeeID:         strings.TrimSpace(gs.PayeeID),
		PayeeName:       gs.PayeeName,
		BaseURL:         base,
		Culture:         gs.Culture,
		AutoCapture:     gs.AutoCapture,
		HTTPClient: &http.Client{
			Timeout: time.Duration(env.GetInt("SWEDBANKPAY_HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		},
	}
}

type transactionsResponse struct {
	Payment      string `json:"payment"`
	Transactions struct {
		ID              string        `json:"id"`
		TransactionList []Transaction `json:"transactionList"`
	} `json:"transactions"`
}

type verificationsResponse struct {
	Payment       string `json:"payment"`
	Verifications struct {
		ID               string         `json:"id"`
		VerificationList []Verification `json:"verificationList"`
	} `json:"verifications"`
}

type transactionResponse struct {
	Payment     string      `json:"payment"`
	Transaction Transaction `json:"transaction"`
}

// Operation responses wrap the transaction under the operation name,
// e.g. {"capture": {"transaction": {...}}}.
type operationResponse map[string]transactionResponse

type paymentResponse struct {
	Payment Payment `json:"payment"`
}

// FetchTransactions returns the full transaction list of a payment.
func (c *Client) FetchTransactions(ctx context.Context, paymentID string) ([]Transaction, error) {
	var out transactionsResponse
	if err := c.do(ctx, http.MethodGet, paymentPath(paymentID, "transactions"), nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions.TransactionList, nil
}

// FetchVerifications returns the verification list of a payment.
func (c *Client) FetchVerifications(ctx context.Context, paymentID string) ([]Verification, error) {
	var out verificationsResponse
	if err := c.do(ctx, http.MethodGet, paymentPath(paymentID, "verifications"), nil, &out); err != nil {
		return nil, err
	}
	return out.Verifications.VerificationList, nil
}

// Capture captures an authorized amount.
func (c *Client) Capture(ctx context.Context, paymentID string, amount, vatAmount int64, payeeReference string) (*Transaction, error) {
	body := map[string]interface{}{
		"transaction": map[string]interface{}{
			"amount":         amount,
			"vatAmount":      vatAmount,
			"description":    "Capture",
			"payeeReference": payeeReference,
		},
	}
	var out operationResponse
	if err := c.do(ctx, http.MethodPost, paymentPath(paymentID, "captures"), body, &out); err != nil {
		return nil, err
	}
	return out.transaction("capture")
}

// Cancel cancels the remaining authorized amount.
func (c *Client) Cancel(ctx context.Context, paymentID, payeeReference string) (*Transaction, error) {
	body := map[string]interface{}{
		"transaction": map[string]interface{}{
			"description":    "Cancellation",
			"payeeReference": payeeReference,
		},
	}
	var out operationResponse
	if err := c.do(ctx, http.MethodPost, paymentPath(paymentID, "cancellations"), body, &out); err != nil {
		return nil, err
	}
	return out.transaction("cancellation")
}

// InitiateRecurringCharge charges a stored recurrence token without the customer.
func (c *Client) InitiateRecurringCharge(ctx context.Context, charge RecurringCharge) (*Payment, error) {
	if charge.RecurrenceToken == "" && charge.PaymentToken == "" {
		return nil, errors.New("a recurrence or payment token is required")
	}
	intent := "Authorization"
	if c.AutoCapture {
		intent = "AutoCapture"
	}
	payment := map[string]interface{}{
		"operation":   "Recur",
		"intent":      intent,
		"currency":    charge.Currency,
		"amount":      charge.Amount,
		"vatAmount":   charge.VatAmount,
		"description": charge.Description,
		"userAgent":   "SwedbankPayQueue/1.0",
		"language":    c.Culture,
		"payeeInfo": map[string]interface{}{
			"payeeId":        c.PayeeID,
			"payeeReference": charge.PayeeReference,
			"payeeName":      c.PayeeName,
			"orderReference": fmt.Sprintf("%d", charge.OrderID),
		},
	}
	if charge.RecurrenceToken != "" {
		payment["recurrenceToken"] = charge.RecurrenceToken
	} else {
		payment["paymentToken"] = charge.PaymentToken
	}

	var out paymentResponse
	if err := c.do(ctx, http.MethodPost, "/psp/creditcard/payments", map[string]interface{}{"payment": payment}, &out); err != nil {
		return nil, err
	}
	if out.Payment.ID == "" {
		return nil, errors.New("recurring charge returned no payment id")
	}
	return &out.Payment, nil
}

func (r operationResponse) transaction(name string) (*Transaction, error) {
	op, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("response has no %s object", name)
	}
	tx := op.Transaction
	return &tx, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c.AccessToken == "" {
		return errors.New("access token is not configured")
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json;version=3.1")
	}

	started := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	log.Debugf("[SwedbankPay] %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(started))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// paymentPath joins a payment resource id ("/psp/creditcard/payments/<id>")
// with a sub resource.
func paymentPath(paymentID, sub string) string {
	p := "/" + strings.Trim(paymentID, "/")
	return p + "/" + sub
}
