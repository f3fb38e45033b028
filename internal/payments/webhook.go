package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Webhook event names delivered by the gateway.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
	EventChargePending = "charge.pending"
)

// ErrMissingMetadata indicates a webhook event without the correlation fields
// required to locate a cart.
var ErrMissingMetadata = errors.New("payments: webhook event missing required metadata")

// WebhookVerifier validates inbound gateway callbacks by recomputing the
// HMAC-SHA-512 of the exact raw request bytes. Verification must run on the
// unparsed body; re-serialising parsed JSON breaks the comparison.
type WebhookVerifier struct {
	secret []byte
}

// NewWebhookVerifier constructs a verifier over the shared webhook secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	return &WebhookVerifier{secret: []byte(secret)}, nil
}

// Verify reports whether signature is the hex-encoded HMAC-SHA-512 of body.
// The comparison is constant time and a mismatch is never an error.
func (v *WebhookVerifier) Verify(body []byte, signature string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// WebhookEvent is a parsed gateway callback payload.
type WebhookEvent struct {
	Event string       `json:"event"`
	Data  WebhookCharge `json:"data"`
}

// WebhookCharge carries the transaction fields of a charge event.
type WebhookCharge struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	Metadata  SessionMetadata `json:"metadata"`
}

// ParseWebhookEvent decodes a raw webhook body into a typed event. Charge
// events are rejected with ErrMissingMetadata when the correlation bag lacks
// required fields; defaulting those to placeholders would break reconciliation.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("payments: decode webhook event: %w", err)
	}
	event.Event = strings.TrimSpace(event.Event)
	if event.Event == "" {
		return WebhookEvent{}, errors.New("payments: webhook event name is required")
	}
	if strings.HasPrefix(event.Event, "charge.") {
		if strings.TrimSpace(event.Data.Reference) == "" {
			return WebhookEvent{}, errors.New("payments: charge event missing reference")
		}
		if err := event.Data.Metadata.Validate(); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMissingMetadata, err)
		}
	}
	return event, nil
}
