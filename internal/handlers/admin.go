package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/platform/auth"
	"github.com/keyforge-store/api/internal/platform/httpx"
	"github.com/keyforge-store/api/internal/services"
)

// AdminHandlers serves the staff-only order and stock operations.
type AdminHandlers struct {
	orders    services.OrderService
	allocator services.AllocationService
}

// NewAdminHandlers constructs the admin handler set.
func NewAdminHandlers(orders services.OrderService, allocator services.AllocationService) (*AdminHandlers, error) {
	if orders == nil {
		return nil, errors.New("admin handlers: order service is required")
	}
	if allocator == nil {
		return nil, errors.New("admin handlers: allocation service is required")
	}
	return &AdminHandlers{orders: orders, allocator: allocator}, nil
}

// Routes registers the admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	r.Post("/orders/{orderID}/approve", h.approveOrder)
	r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	r.Post("/orders/{orderID}/refund", h.refundOrder)
	r.Post("/orders/{orderID}/lines/{lineIndex}/deliver", h.deliverLine)
	r.Post("/stock", h.addStock)
}

func (h *AdminHandlers) approveOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.ApproveOrder)
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.CancelOrder)
}

func (h *AdminHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.RefundOrder)
}

func (h *AdminHandlers) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, orderID, actorID string) (domain.Order, error)) {
	orderID := chi.URLParam(r, "orderID")
	actor := actorID(r)

	order, err := op(r.Context(), orderID, actor)
	if err != nil {
		writeOrderServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, newOrderView(order))
}

func (h *AdminHandlers) deliverLine(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	lineIndex, err := strconv.Atoi(chi.URLParam(r, "lineIndex"))
	if err != nil || lineIndex < 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, "line index must be a non-negative integer")
		return
	}

	order, err := h.orders.DeliverLine(r.Context(), orderID, lineIndex, actorID(r))
	if err != nil {
		writeOrderServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, newOrderView(order))
}

type addStockRequest struct {
	ProductRef string         `json:"productRef"`
	VariantRef *string        `json:"variantRef,omitempty"`
	Codes      []string       `json:"codes"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (h *AdminHandlers) addStock(w http.ResponseWriter, r *http.Request) {
	var req addStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, "malformed request body")
		return
	}
	if req.ProductRef == "" || len(req.Codes) == 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, "productRef and at least one code are required")
		return
	}

	remaining, err := h.allocator.AddStock(r.Context(), services.AddStockCommand{
		ProductRef: req.ProductRef,
		VariantRef: req.VariantRef,
		Codes:      req.Codes,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeAllocationError(w, r, err)
		return
	}

	httpx.WriteJSON(w, r, http.StatusCreated, map[string]any{
		"added":     len(req.Codes),
		"remaining": remaining,
	})
}

func actorID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.UID
	}
	return "unknown"
}

func writeAllocationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrAllocationInvalidInput):
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, err.Error())
	case errors.Is(err, services.ErrAllocationProductNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, httpx.CodeNotFound, err.Error())
	case errors.Is(err, services.ErrAllocationManualDelivery):
		httpx.WriteError(w, r, http.StatusConflict, httpx.CodeConflict, err.Error())
	case errors.Is(err, services.ErrAllocationInsufficientStock):
		httpx.WriteError(w, r, http.StatusConflict, httpx.CodeConflict, err.Error())
	case errors.Is(err, services.ErrAllocationContention):
		httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeUnavailable, err.Error())
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "internal error")
	}
}
