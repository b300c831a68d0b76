package payments

import (
	"context"
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want Status
	}{
		{"approved", StatusPaid},
		{"APPROVED", StatusPaid},
		{" approved ", StatusPaid},
		{"cancelled", StatusCanceled},
		{"canceled", StatusCanceled},
		{"refunded", StatusCanceled},
		{"charged_back", StatusCanceled},
		{"pending", StatusPending},
		{"in_process", StatusPending},
		{"rejected", StatusPending},
		{"", StatusPending},
		{"something_new", StatusPending},
	}

	for _, tc := range cases {
		if got := Normalize(tc.raw); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

type stubProvider struct {
	lookupFn func(ctx context.Context, paymentID string) (Lookup, error)
}

func (s *stubProvider) LookupPayment(ctx context.Context, paymentID string) (Lookup, error) {
	return s.lookupFn(ctx, paymentID)
}

func TestManagerResolvesByMethod(t *testing.T) {
	mp := &stubProvider{lookupFn: func(context.Context, string) (Lookup, error) {
		return Lookup{RawStatus: "approved", Status: StatusPaid}, nil
	}}
	st := &stubProvider{lookupFn: func(context.Context, string) (Lookup, error) {
		return Lookup{RawStatus: "pending", Status: StatusPending}, nil
	}}

	manager, err := NewManager(map[string]Provider{
		"mercadopago": mp,
		"stripe":      st,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	lookup, err := manager.LookupPayment(context.Background(), "MercadoPago", "pay-1")
	if err != nil {
		t.Fatalf("LookupPayment: %v", err)
	}
	if lookup.Provider != "mercadopago" {
		t.Fatalf("expected mercadopago provider, got %q", lookup.Provider)
	}
	if lookup.Status != StatusPaid {
		t.Fatalf("expected paid status, got %q", lookup.Status)
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	mp := &stubProvider{lookupFn: func(context.Context, string) (Lookup, error) {
		return Lookup{Status: StatusPending}, nil
	}}

	manager, err := NewManager(map[string]Provider{
		"mercadopago": mp,
		"stripe": &stubProvider{lookupFn: func(context.Context, string) (Lookup, error) {
			return Lookup{}, errors.New("should not be called")
		}},
	}, WithDefaultProvider("mercadopago"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	lookup, err := manager.LookupPayment(context.Background(), "unknown-method", "pay-1")
	if err != nil {
		t.Fatalf("LookupPayment: %v", err)
	}
	if lookup.Provider != "mercadopago" {
		t.Fatalf("expected default provider, got %q", lookup.Provider)
	}
}

func TestManagerSingleProviderNeedsNoDefault(t *testing.T) {
	manager, err := NewManager(map[string]Provider{
		"mercadopago": &stubProvider{lookupFn: func(context.Context, string) (Lookup, error) {
			return Lookup{Status: StatusPending}, nil
		}},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := manager.LookupPayment(context.Background(), "", "pay-1"); err != nil {
		t.Fatalf("LookupPayment: %v", err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	manager, err := NewManager(map[string]Provider{
		"mercadopago": &stubProvider{lookupFn: func(context.Context, string) (Lookup, error) {
			return Lookup{}, nil
		}},
		"stripe": &stubProvider{lookupFn: func(context.Context, string) (Lookup, error) {
			return Lookup{}, nil
		}},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := manager.LookupPayment(context.Background(), "paypal", "pay-1"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}
