package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keyforge-store/api/internal/platform/httpx"
	"github.com/keyforge-store/api/internal/services"
)

// WebhookHandlers receives asynchronous payment notifications from providers.
type WebhookHandlers struct {
	status services.PaymentStatusService
	secret string
}

// NewWebhookHandlers constructs the webhook handler set. An empty secret
// disables the shared-secret check.
func NewWebhookHandlers(status services.PaymentStatusService, secret string) (*WebhookHandlers, error) {
	if status == nil {
		return nil, errors.New("webhook handlers: payment status service is required")
	}
	return &WebhookHandlers{status: status, secret: secret}, nil
}

// Routes registers the webhook endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments", h.paymentNotification)
}

// paymentNotificationRequest mirrors the MercadoPago IPN shape; the order id
// travels in external_reference and the provider payment id in data.id.
type paymentNotificationRequest struct {
	Type string `json:"type,omitempty"`
	Data struct {
		ID any `json:"id,omitempty"`
	} `json:"data,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	OrderID           string `json:"orderId,omitempty"`
}

// paymentID renders data.id as a string; providers send it as either a JSON
// number or a string.
func (r paymentNotificationRequest) paymentID() string {
	switch v := r.Data.ID.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func (h *WebhookHandlers) paymentNotification(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		provided := r.Header.Get("X-Webhook-Secret")
		if provided == "" {
			provided = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid webhook secret")
			return
		}
	}

	// Providers attach fields we do not model and sometimes send an empty
	// body with query parameters only, so decoding is lenient here.
	var req paymentNotificationRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, "malformed notification body")
		return
	}

	orderID := req.ExternalReference
	if orderID == "" {
		orderID = req.OrderID
	}
	if orderID == "" {
		orderID = r.URL.Query().Get("external_reference")
	}
	if orderID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, "notification carries no order reference")
		return
	}

	paymentID := req.paymentID()
	if paymentID == "" {
		paymentID = strings.TrimSpace(r.URL.Query().Get("id"))
	}

	result, err := h.status.Resolve(r.Context(), orderID, paymentID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentOrderNotFound):
			// Acknowledge unknown references so the provider stops retrying.
			httpx.WriteJSON(w, r, http.StatusOK, map[string]any{"received": true, "known": false})
		case errors.Is(err, services.ErrPaymentProviderUnavailable):
			// 5xx asks the provider to redeliver later.
			httpx.WriteError(w, r, http.StatusBadGateway, httpx.CodeUnavailable, "payment provider unavailable")
		default:
			httpx.WriteError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "internal error")
		}
		return
	}

	httpx.WriteJSON(w, r, http.StatusOK, map[string]any{
		"received":      true,
		"known":         true,
		"isPaid":        result.IsPaid,
		"paymentStatus": result.PaymentStatus,
	})
}
