package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMercadoPagoBaseURL = "https://api.mercadopago.com"

// MercadoPagoLogger defines the logging contract for provider operations.
type MercadoPagoLogger func(ctx context.Context, event string, fields map[string]any)

// MercadoPagoConfig configures the MercadoPago provider.
type MercadoPagoConfig struct {
	AccessToken string
	BaseURL     string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      MercadoPagoLogger
}

// MercadoPagoProvider resolves payment statuses through the MercadoPago REST API.
type MercadoPagoProvider struct {
	token   string
	baseURL string
	client  *http.Client
	logger  MercadoPagoLogger
}

// NewMercadoPagoProvider constructs a MercadoPago Provider using the given configuration.
func NewMercadoPagoProvider(cfg MercadoPagoConfig) (*MercadoPagoProvider, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("mercadopago: access token is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultMercadoPagoBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &MercadoPagoProvider{
		token:   token,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}, nil
}

type mercadoPagoPayment struct {
	ID           json.Number `json:"id"`
	Status       string      `json:"status"`
	StatusDetail string      `json:"status_detail"`
}

// LookupPayment fetches the payment resource and normalises its status.
func (p *MercadoPagoProvider) LookupPayment(ctx context.Context, paymentID string) (Lookup, error) {
	if p == nil {
		return Lookup{}, errors.New("mercadopago: provider is nil")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Lookup{}, errors.New("mercadopago: payment id is required")
	}

	endpoint := fmt.Sprintf("%s/v1/payments/%s", p.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Lookup{}, fmt.Errorf("mercadopago: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Lookup{}, fmt.Errorf("mercadopago: fetch payment %s: %w", paymentID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Lookup{}, fmt.Errorf("mercadopago: payment %s: %w", paymentID, ErrPaymentNotFound)
	case resp.StatusCode != http.StatusOK:
		p.logger(ctx, "mercadopago.lookup_failed", map[string]any{
			"paymentId": paymentID,
			"status":    resp.StatusCode,
		})
		return Lookup{}, fmt.Errorf("mercadopago: fetch payment %s: unexpected status %d", paymentID, resp.StatusCode)
	}

	var payment mercadoPagoPayment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return Lookup{}, fmt.Errorf("mercadopago: decode payment %s: %w", paymentID, err)
	}

	lookup := Lookup{
		PaymentID: paymentID,
		RawStatus: payment.Status,
		Status:    Normalize(payment.Status),
		Raw: map[string]any{
			"status":        payment.Status,
			"status_detail": payment.StatusDetail,
		},
	}
	p.logger(ctx, "mercadopago.lookup", map[string]any{
		"paymentId": paymentID,
		"rawStatus": payment.Status,
		"status":    string(lookup.Status),
	})
	return lookup, nil
}
