// Package orderstate applies provider transaction outcomes to orders.
//
// Transitions carrying a transaction number are applied only when the number
// is strictly greater than the order's stored one. Captured, cancelled,
// refunded and failed orders keep their status; later transitions become
// notes. Manual processing can be entered from anywhere.
package orderstate

import (
	"fmt"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
)

// Result describes what Apply did to the order.
type Result int

const (
	// Applied: status (and number) updated.
	Applied Result = iota
	// Stale: number not greater than the stored one, order untouched.
	Stale
	// Noted: order is terminal, only the number advanced and a note is due.
	Noted
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Noted:
		return "noted"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Transition is a requested status change. Number 0 means "not supplied".
type Transition struct {
	To     models.OrderStatus
	Note   string
	Number int64
}

var terminal = map[models.OrderStatus]bool{
	models.OrderStatusCaptured:  true,
	models.OrderStatusCancelled: true,
	models.OrderStatusRefunded:  true,
	models.OrderStatusFailed:    true,
}

var known = map[models.OrderStatus]bool{
	models.OrderStatusPending:          true,
	models.OrderStatusAuthorized:       true,
	models.OrderStatusVerified:         true,
	models.OrderStatusCaptured:         true,
	models.OrderStatusCancelled:        true,
	models.OrderStatusRefunded:         true,
	models.OrderStatusFailed:           true,
	models.OrderStatusManualProcessing: true,
}

// IsTerminal reports whether status accepts no further automatic transitions.
func IsTerminal(status models.OrderStatus) bool {
	return terminal[status]
}

// Valid reports whether status is one of the known order states.
func Valid(status models.OrderStatus) bool {
	return known[status]
}

// Apply mutates order in place according to t and reports the outcome. The
// caller persists the order and records the note.
func Apply(order *models.Order, t Transition) (Result, error) {
	if !Valid(t.To) {
		return Stale, fmt.Errorf("unknown order status %q", t.To)
	}

	if t.To == models.OrderStatusManualProcessing {
		order.Status = t.To
		if t.Number > order.TransactionNumber {
			order.TransactionNumber = t.Number
		}
		return Applied, nil
	}

	if t.Number > 0 && t.Number <= order.TransactionNumber {
		return Stale, nil
	}

	if t.Number > 0 {
		order.TransactionNumber = t.Number
	}
	if IsTerminal(order.Status) {
		return Noted, nil
	}
	order.Status = t.To
	return Applied, nil
}
