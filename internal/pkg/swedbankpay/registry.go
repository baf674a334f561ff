package swedbankpay

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
)

const DefaultPaymentMethodID = "payex_psp_cc"

var ErrUnknownPaymentMethod = errors.New("unknown payment method")

// Registry maps payment method ids to gateway instances. It is built once at
// startup and handed to the components that need a gateway.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]API
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]API)}
}

func (r *Registry) Register(paymentMethodID string, api API) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[paymentMethodID] = api
}

// Get returns the gateway of a payment method.
func (r *Registry) Get(paymentMethodID string) (API, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	api, ok := r.gateways[paymentMethodID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPaymentMethod, paymentMethodID)
	}
	return api, nil
}

// IDs returns the registered payment method ids in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PaymentMethodsFromEnv reads SWEDBANKPAY_PAYMENT_METHODS (comma separated).
func PaymentMethodsFromEnv() []string {
	raw := env.GetEnv("SWEDBANKPAY_PAYMENT_METHODS", DefaultPaymentMethodID)
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// LoadRegistry builds a client per enabled payment method from the settings
// table. Missing credentials fall back to SWEDBANKPAY_ACCESS_TOKEN and
// SWEDBANKPAY_PAYEE_ID.
func LoadRegistry(db *gorm.DB, paymentMethodIDs []string) (*Registry, error) {
	reg := NewRegistry()
	for _, id := range paymentMethodIDs {
		gs, err := models.LoadGatewaySettings(db, id)
		if err != nil {
			return nil, err
		}
		if gs.AccessToken == "" {
			gs.AccessToken = env.GetEnv("SWEDBANKPAY_ACCESS_TOKEN", "")
		}
		if gs.PayeeID == "" {
			gs.PayeeID = env.GetEnv("SWEDBANKPAY_PAYEE_ID", "")
		}
		if !gs.Enabled {
			log.Infof("[SwedbankPay] Payment method %s is disabled", id)
			continue
		}
		if err := gs.Validate(); err != nil {
			log.Warnf("[SwedbankPay] Skipping payment method %s: %v", id, err)
			continue
		}
		reg.Register(id, NewClient(gs))
		log.Infof("[SwedbankPay] Registered payment method %s (test mode: %t)", id, gs.TestMode)
	}
	return reg, nil
}
