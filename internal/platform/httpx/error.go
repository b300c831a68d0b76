package httpx

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/keyforge-store/api/internal/platform/requestctx"
)

// Error is the JSON error envelope returned by every handler.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes shared across handlers.
const (
	CodeBadRequest     = "bad_request"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal_error"
	CodePaymentPending = "payment_pending"
)

// WriteError serializes the error envelope with the given status code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	body := Error{
		Status:  status,
		Code:    code,
		Message: message,
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		requestctx.Logger(r.Context()).Warn("write error response", zap.Error(err))
	}
}

// WriteJSON serializes the payload with the given status code.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		requestctx.Logger(r.Context()).Warn("write json response", zap.Error(err))
	}
}

// DecodeJSON parses the request body into dst with unknown fields rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
