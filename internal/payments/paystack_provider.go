package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultPaystackBaseURL = "https://api.paystack.co"
	defaultPaystackTimeout = 10 * time.Second
	paystackMaxResponse    = 1 << 20
)

// PaystackProviderConfig configures the Paystack REST adapter.
type PaystackProviderConfig struct {
	SecretKey  string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// PaystackProvider implements Provider against the Paystack transaction API.
type PaystackProvider struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

var _ Provider = (*PaystackProvider)(nil)

// NewPaystackProvider constructs a Paystack-backed Provider.
func NewPaystackProvider(cfg PaystackProviderConfig) (*PaystackProvider, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("payments: paystack secret key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultPaystackBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("payments: invalid paystack base url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultPaystackTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &PaystackProvider{
		secretKey: secret,
		baseURL:   base,
		client:    client,
	}, nil
}

type paystackInitializeRequest struct {
	Email       string          `json:"email"`
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
	Metadata    SessionMetadata `json:"metadata"`
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransactionData struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel"`
	PaidAt    string          `json:"paid_at"`
	Metadata  SessionMetadata `json:"metadata"`
}

type paystackRefundRequest struct {
	Transaction string `json:"transaction"`
	Amount      *int64 `json:"amount,omitempty"`
	Reason      string `json:"merchant_note,omitempty"`
}

type paystackRefundData struct {
	Status      string `json:"status"`
	Transaction struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"transaction"`
	Amount int64 `json:"amount"`
}

// InitializeTransaction creates a hosted payment page for the supplied amount.
func (p *PaystackProvider) InitializeTransaction(ctx context.Context, req InitializeRequest) (CheckoutSession, error) {
	if strings.TrimSpace(req.Email) == "" {
		return CheckoutSession{}, errors.New("payments: initialize requires buyer email")
	}
	if req.Amount <= 0 {
		return CheckoutSession{}, errors.New("payments: initialize requires positive amount")
	}
	if err := req.Metadata.Validate(); err != nil {
		return CheckoutSession{}, err
	}

	payload := paystackInitializeRequest{
		Email:       strings.TrimSpace(req.Email),
		Amount:      req.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		Reference:   strings.TrimSpace(req.Reference),
		CallbackURL: strings.TrimSpace(req.CallbackURL),
		Metadata:    req.Metadata,
	}

	var data paystackInitializeData
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return CheckoutSession{}, err
	}
	if data.AuthorizationURL == "" {
		return CheckoutSession{}, errors.New("payments: paystack returned no authorization url")
	}

	return CheckoutSession{
		Reference:   data.Reference,
		AccessCode:  data.AccessCode,
		RedirectURL: data.AuthorizationURL,
	}, nil
}

// VerifyTransaction fetches the server-side state of a transaction reference.
func (p *PaystackProvider) VerifyTransaction(ctx context.Context, reference string) (PaymentDetails, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return PaymentDetails{}, errors.New("payments: verify requires a transaction reference")
	}

	var data paystackTransactionData
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(ref), nil, &data); err != nil {
		return PaymentDetails{}, err
	}

	details := PaymentDetails{
		Provider:  "paystack",
		Reference: data.Reference,
		Status:    mapPaystackStatus(data.Status),
		Amount:    data.Amount,
		Currency:  strings.ToUpper(data.Currency),
		Channel:   data.Channel,
		Metadata:  data.Metadata,
	}
	if details.Reference == "" {
		details.Reference = ref
	}
	if paidAt, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
		details.PaidAt = &paidAt
	}
	return details, nil
}

// Refund initiates a refund for a captured transaction.
func (p *PaystackProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		return PaymentDetails{}, errors.New("payments: refund requires a transaction reference")
	}

	payload := paystackRefundRequest{
		Transaction: ref,
		Amount:      req.Amount,
		Reason:      strings.TrimSpace(req.Reason),
	}

	var data paystackRefundData
	if err := p.do(ctx, http.MethodPost, "/refund", payload, &data); err != nil {
		return PaymentDetails{}, err
	}

	now := time.Now().UTC()
	details := PaymentDetails{
		Provider:   "paystack",
		Reference:  data.Transaction.Reference,
		Status:     StatusRefunded,
		Amount:     data.Amount,
		Currency:   strings.ToUpper(data.Transaction.Currency),
		RefundedAt: &now,
	}
	if details.Reference == "" {
		details.Reference = ref
	}
	if details.Amount == 0 && req.Amount != nil {
		details.Amount = *req.Amount
	}
	return details, nil
}

func (p *PaystackProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("payments: encode paystack request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("payments: build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("payments: paystack request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, paystackMaxResponse))
	if err != nil {
		return fmt.Errorf("payments: read paystack response: %w", err)
	}

	var envelope paystackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("payments: decode paystack response (http %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !envelope.Status {
		message := strings.TrimSpace(envelope.Message)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("payments: paystack rejected request (http %d): %s", resp.StatusCode, message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("payments: decode paystack payload: %w", err)
		}
	}
	return nil
}

func mapPaystackStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return StatusSucceeded
	case "failed", "abandoned", "reversed":
		return StatusFailed
	case "refunded":
		return StatusRefunded
	default:
		return StatusPending
	}
}
