package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/platform/auth"
	"github.com/keyforge-store/api/internal/services"
)

type stubOrderService struct {
	getFn     func(context.Context, string) (domain.Order, error)
	approveFn func(context.Context, string, string) (domain.Order, error)
	cancelFn  func(context.Context, string, string) (domain.Order, error)
	refundFn  func(context.Context, string, string) (domain.Order, error)
	deliverFn func(context.Context, string, int, string) (domain.Order, error)
	expireFn  func(context.Context, time.Time, int) (int, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ApproveOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, orderID, actorID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) CancelOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, orderID, actorID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) RefundOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, orderID, actorID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) DeliverLine(ctx context.Context, orderID string, lineIndex int, actorID string) (domain.Order, error) {
	if s.deliverFn != nil {
		return s.deliverFn(ctx, orderID, lineIndex, actorID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx, now, limit)
	}
	return 0, errors.New("not implemented")
}

type stubPaymentStatusService struct {
	resolveFn func(context.Context, string, string) (services.PaymentStatusResult, error)
}

func (s *stubPaymentStatusService) Resolve(ctx context.Context, orderID, paymentID string) (services.PaymentStatusResult, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, orderID, paymentID)
	}
	return services.PaymentStatusResult{}, errors.New("not implemented")
}

func newOrderRouter(t *testing.T, orders services.OrderService, status services.PaymentStatusService) chi.Router {
	t.Helper()
	handler, err := NewOrderHandlers(orders, status)
	if err != nil {
		t.Fatalf("NewOrderHandlers: %v", err)
	}
	router := chi.NewRouter()
	handler.Routes(router)
	return router
}

func requestAs(method, target string, identity auth.Identity) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestGetOrderReturnsOwnerView(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:      orderID,
				Number:  "KF-2024-000042",
				UserRef: "user-1",
				Payment: domain.PaymentInfo{Status: domain.OrderStatusPaid},
				Lines: []domain.OrderLine{
					{ProductRef: "prod-1", Name: "License", UnitPrice: 990, Quantity: 2},
				},
			}, nil
		},
	}
	router := newOrderRouter(t, orders, &stubPaymentStatusService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodGet, "/ord-1", auth.Identity{UID: "user-1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view orderView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.Number != "KF-2024-000042" || view.Status != "paid" || len(view.Lines) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestGetOrderForbiddenForOtherBuyer(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord-1", UserRef: "user-1"}, nil
		},
	}
	router := newOrderRouter(t, orders, &stubPaymentStatusService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodGet, "/ord-1", auth.Identity{UID: "user-2"}))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetOrderAdminBypassesOwnership(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord-1", UserRef: "user-1"}, nil
		},
	}
	router := newOrderRouter(t, orders, &stubPaymentStatusService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodGet, "/ord-1", auth.Identity{UID: "staff-1", Roles: []string{auth.RoleAdmin}}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(t, orders, &stubPaymentStatusService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodGet, "/missing", auth.Identity{UID: "user-1"}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var envelope map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope["code"] != "not_found" {
		t.Fatalf("unexpected error code: %v", envelope["code"])
	}
}

func TestPaymentStatusResolvesForOwner(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord-1", UserRef: "user-1"}, nil
		},
	}
	status := &stubPaymentStatusService{
		resolveFn: func(_ context.Context, orderID, _ string) (services.PaymentStatusResult, error) {
			return services.PaymentStatusResult{
				OrderID:       orderID,
				OrderStatus:   domain.OrderStatusPaid,
				PaymentStatus: "paid",
				IsPaid:        true,
			}, nil
		},
	}
	router := newOrderRouter(t, orders, status)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodGet, "/ord-1/payment-status", auth.Identity{UID: "user-1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view paymentStatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !view.IsPaid || view.PaymentStatus != "paid" || view.OrderStatus != "paid" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestPaymentStatusProviderUnavailable(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord-1", UserRef: "user-1"}, nil
		},
	}
	status := &stubPaymentStatusService{
		resolveFn: func(context.Context, string, string) (services.PaymentStatusResult, error) {
			return services.PaymentStatusResult{}, services.ErrPaymentProviderUnavailable
		},
	}
	router := newOrderRouter(t, orders, status)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodGet, "/ord-1/payment-status", auth.Identity{UID: "user-1"}))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}
