package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// SessionMetadata is the correlation bag attached to a hosted payment session.
// The gateway echoes it back verbatim in webhook events so reconciliation can
// locate the cart without re-deriving state.
type SessionMetadata struct {
	CartID           string `json:"cartId"`
	UserID           string `json:"userId"`
	BuyerEmail       string `json:"buyerEmail"`
	FormattedAddress string `json:"formattedAddress"`
}

// Validate reports the first missing required correlation field.
func (m SessionMetadata) Validate() error {
	switch {
	case strings.TrimSpace(m.CartID) == "":
		return errors.New("payments: session metadata missing cartId")
	case strings.TrimSpace(m.UserID) == "":
		return errors.New("payments: session metadata missing userId")
	case strings.TrimSpace(m.BuyerEmail) == "":
		return errors.New("payments: session metadata missing buyerEmail")
	case strings.TrimSpace(m.FormattedAddress) == "":
		return errors.New("payments: session metadata missing formattedAddress")
	default:
		return nil
	}
}

// InitializeRequest captures the payload required to create a hosted checkout session.
type InitializeRequest struct {
	Amount      int64
	Currency    string
	Email       string
	Reference   string
	CallbackURL string
	Metadata    SessionMetadata
}

// CheckoutSession represents the gateway session returned to the client.
type CheckoutSession struct {
	Reference   string
	Provider    string
	AccessCode  string
	RedirectURL string
	ExpiresAt   time.Time
	Raw         map[string]any
}

// RefundRequest defines a gateway refund attempt.
type RefundRequest struct {
	Reference string
	Amount    *int64
	Reason    string
}

// PaymentDetails normalises gateway specific transaction fields.
type PaymentDetails struct {
	Provider   string
	Reference  string
	Status     Status
	Amount     int64
	Currency   string
	Channel    string
	PaidAt     *time.Time
	RefundedAt *time.Time
	Metadata   SessionMetadata
	Raw        map[string]any
}

// Provider defines the contract for payment gateway adapters to implement.
// VerifyTransaction is the server-side source of truth for a charge's outcome;
// callers must never trust a webhook payload's own success claim.
type Provider interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (CheckoutSession, error)
	VerifyTransaction(ctx context.Context, reference string) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["paystack"]; ok {
		m.defaultProvider = "paystack"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// InitializeTransaction delegates to the resolved provider.
func (m *Manager) InitializeTransaction(ctx context.Context, paymentCtx PaymentContext, req InitializeRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.InitializeTransaction(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// VerifyTransaction delegates to the resolved provider.
func (m *Manager) VerifyTransaction(ctx context.Context, paymentCtx PaymentContext, reference string) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.VerifyTransaction(ctx, reference)
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.Provider == "" {
		details.Provider = key
	}
	return details, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Refund(ctx, req)
}
