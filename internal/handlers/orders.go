package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/platform/auth"
	"github.com/keyforge-store/api/internal/platform/httpx"
	"github.com/keyforge-store/api/internal/services"
)

// OrderHandlers serves the buyer-facing order endpoints.
type OrderHandlers struct {
	orders services.OrderService
	status services.PaymentStatusService
}

// NewOrderHandlers constructs the order handler set.
func NewOrderHandlers(orders services.OrderService, status services.PaymentStatusService) (*OrderHandlers, error) {
	if orders == nil {
		return nil, errors.New("order handlers: order service is required")
	}
	if status == nil {
		return nil, errors.New("order handlers: payment status service is required")
	}
	return &OrderHandlers{orders: orders, status: status}, nil
}

// Routes registers the order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/payment-status", h.paymentStatus)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeOrderServiceError(w, r, err)
		return
	}
	if !callerMayAccess(r, order) {
		httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeForbidden, "order belongs to another buyer")
		return
	}

	httpx.WriteJSON(w, r, http.StatusOK, newOrderView(order))
}

func (h *OrderHandlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeOrderServiceError(w, r, err)
		return
	}
	if !callerMayAccess(r, order) {
		httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeForbidden, "order belongs to another buyer")
		return
	}

	result, err := h.status.Resolve(r.Context(), orderID, "")
	if err != nil {
		if errors.Is(err, services.ErrPaymentProviderUnavailable) {
			httpx.WriteError(w, r, http.StatusBadGateway, httpx.CodeUnavailable, "payment provider unavailable")
			return
		}
		writeOrderServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, r, http.StatusOK, paymentStatusView{
		IsPaid:        result.IsPaid,
		PaymentStatus: result.PaymentStatus,
		OrderStatus:   string(result.OrderStatus),
	})
}

func callerMayAccess(r *http.Request, order domain.Order) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return false
	}
	if identity.HasRole(auth.RoleAdmin) {
		return true
	}
	return identity.UID == order.UserRef
}

// Views ---------------------------------------------------------------------

type paymentStatusView struct {
	IsPaid        bool   `json:"isPaid"`
	PaymentStatus string `json:"paymentStatus"`
	OrderStatus   string `json:"orderStatus"`
}

type orderView struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	Status          string          `json:"status"`
	Fulfillment     string          `json:"fulfillment"`
	ProductAssigned bool            `json:"productAssigned"`
	TotalAmount     int64           `json:"totalAmount"`
	Lines           []orderLineView `json:"lines"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type orderLineView struct {
	ProductRef string  `json:"productRef"`
	VariantRef *string `json:"variantRef,omitempty"`
	Name       string  `json:"name"`
	UnitPrice  int64   `json:"unitPrice"`
	Quantity   int     `json:"quantity"`
	Delivered  bool    `json:"delivered"`
}

func newOrderView(order domain.Order) orderView {
	lines := make([]orderLineView, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineView{
			ProductRef: line.ProductRef,
			VariantRef: line.VariantRef,
			Name:       line.Name,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
			Delivered:  line.Delivered,
		}
	}
	return orderView{
		ID:              order.ID,
		Number:          order.Number,
		Status:          string(order.Status()),
		Fulfillment:     string(order.Fulfillment),
		ProductAssigned: order.ProductAssigned,
		TotalAmount:     order.TotalAmount,
		Lines:           lines,
		ExpiresAt:       order.ExpiresAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func writeOrderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, httpx.CodeNotFound, "order not found")
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(w, r, http.StatusConflict, httpx.CodeConflict, err.Error())
	case errors.Is(err, services.ErrOrderLineNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, httpx.CodeNotFound, err.Error())
	case errors.Is(err, services.ErrOrderLineNotManual):
		httpx.WriteError(w, r, http.StatusConflict, httpx.CodeConflict, err.Error())
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, err.Error())
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "internal error")
	}
}
