package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	lastRef string
	session CheckoutSession
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) InitializeTransaction(ctx context.Context, req InitializeRequest) (CheckoutSession, error) {
	f.lastOp = "initialize"
	return f.session, f.err
}

func (f *fakeProvider) VerifyTransaction(ctx context.Context, reference string) (PaymentDetails, error) {
	f.lastOp = "verify"
	f.lastRef = reference
	return f.payment, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	f.lastRef = req.Reference
	return f.payment, f.err
}

func TestManagerInitializeUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	paystack := &fakeProvider{session: CheckoutSession{Reference: "ref_paystack"}}
	stripe := &fakeProvider{session: CheckoutSession{Reference: "ref_stripe"}}

	mgr, err := NewManager(map[string]Provider{
		"paystack": paystack,
		"stripe":   stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.InitializeTransaction(ctx, PaymentContext{PreferredProvider: "stripe"}, InitializeRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if session.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", session.Provider)
	}
	if stripe.lastOp != "initialize" {
		t.Fatalf("expected stripe provider to handle call")
	}
	if paystack.lastOp != "" {
		t.Fatalf("expected paystack provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	paystack := &fakeProvider{session: CheckoutSession{Reference: "ref_paystack"}}
	stripe := &fakeProvider{session: CheckoutSession{Reference: "ref_stripe"}}

	mgr, err := NewManager(
		map[string]Provider{
			"paystack": paystack,
			"stripe":   stripe,
		},
		WithCurrencyRoutes(map[string]string{"USD": "stripe"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.InitializeTransaction(ctx, PaymentContext{Currency: "USD"}, InitializeRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if session.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", session.Provider)
	}
	if stripe.lastOp != "initialize" {
		t.Fatalf("expected stripe provider to handle call")
	}
}

func TestManagerDefaultsToPaystack(t *testing.T) {
	ctx := context.Background()
	paystack := &fakeProvider{payment: PaymentDetails{Provider: "paystack", Status: StatusSucceeded}}
	stripe := &fakeProvider{}

	mgr, err := NewManager(map[string]Provider{
		"paystack": paystack,
		"stripe":   stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.VerifyTransaction(ctx, PaymentContext{}, "ref_123")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if paystack.lastOp != "verify" || paystack.lastRef != "ref_123" {
		t.Fatalf("expected verify to invoke default paystack provider")
	}
	if details.Status != StatusSucceeded {
		t.Fatalf("unexpected status %q", details.Status)
	}
}

func TestManagerFallsBackToSingleProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{Provider: "stripe"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := mgr.Refund(ctx, PaymentContext{}, RefundRequest{Reference: "pi_123"}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if stripe.lastOp != "refund" || stripe.lastRef != "pi_123" {
		t.Fatalf("expected refund to reach the only registered provider")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "flutterwave": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.InitializeTransaction(ctx, PaymentContext{PreferredProvider: "unknown"}, InitializeRequest{Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
