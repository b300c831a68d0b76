package payments

import (
	"context"
	"errors"
	"strings"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPaid indicates the provider reports the payment as captured.
	StatusPaid Status = "paid"
	// StatusCanceled indicates the payment was cancelled, refunded or charged back.
	StatusCanceled Status = "canceled"
	// StatusPending indicates the payment is awaiting customer action or
	// provider confirmation. Unrecognised raw statuses normalise here.
	StatusPending Status = "pending"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrPaymentNotFound is returned when the provider has no record of the payment.
var ErrPaymentNotFound = errors.New("payments: payment not found")

// Lookup carries the provider's current view of one payment.
type Lookup struct {
	Provider  string
	PaymentID string
	RawStatus string
	Status    Status
	Raw       map[string]any
}

// Normalize maps a raw provider status onto the shared Status taxonomy.
func Normalize(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return StatusPaid
	case "cancelled", "canceled", "refunded", "charged_back":
		return StatusCanceled
	default:
		return StatusPending
	}
}

// Provider defines the contract payment adapters implement.
type Provider interface {
	LookupPayment(ctx context.Context, paymentID string) (Lookup, error)
}

// Manager selects the provider matching an order's payment method.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when the payment method is blank
// or unregistered.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registry := make(map[string]Provider, len(providers))
	for key, provider := range providers {
		normalized := strings.ToLower(strings.TrimSpace(key))
		if normalized == "" || provider == nil {
			return nil, errors.New("payments: invalid provider registration")
		}
		registry[normalized] = provider
	}
	m := &Manager{providers: registry}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Manager) resolve(method string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: manager is not initialised")
	}
	if key := strings.ToLower(strings.TrimSpace(method)); key != "" {
		if provider, ok := m.providers[key]; ok {
			return key, provider, nil
		}
	}
	if m.defaultProvider != "" {
		if provider, ok := m.providers[m.defaultProvider]; ok {
			return m.defaultProvider, provider, nil
		}
	}
	if len(m.providers) == 1 {
		for key, provider := range m.providers {
			return key, provider, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// LookupPayment delegates to the provider registered for the payment method.
func (m *Manager) LookupPayment(ctx context.Context, method, paymentID string) (Lookup, error) {
	key, provider, err := m.resolve(method)
	if err != nil {
		return Lookup{}, err
	}
	lookup, err := provider.LookupPayment(ctx, paymentID)
	if err != nil {
		return Lookup{}, err
	}
	lookup.Provider = key
	return lookup, nil
}
