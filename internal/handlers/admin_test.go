package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/platform/auth"
	"github.com/keyforge-store/api/internal/services"
)

type stubAllocationService struct {
	allocateFn func(context.Context, services.AllocationCommand) (services.AllocationResult, error)
	addStockFn func(context.Context, services.AddStockCommand) (int, error)
	refreshFn  func(context.Context, string, *string) (int, error)
}

func (s *stubAllocationService) Allocate(ctx context.Context, cmd services.AllocationCommand) (services.AllocationResult, error) {
	if s.allocateFn != nil {
		return s.allocateFn(ctx, cmd)
	}
	return services.AllocationResult{}, errors.New("not implemented")
}

func (s *stubAllocationService) AddStock(ctx context.Context, cmd services.AddStockCommand) (int, error) {
	if s.addStockFn != nil {
		return s.addStockFn(ctx, cmd)
	}
	return 0, errors.New("not implemented")
}

func (s *stubAllocationService) RefreshVisibleStock(ctx context.Context, productRef string, variantRef *string) (int, error) {
	if s.refreshFn != nil {
		return s.refreshFn(ctx, productRef, variantRef)
	}
	return 0, errors.New("not implemented")
}

func newAdminRouter(t *testing.T, orders services.OrderService, allocator services.AllocationService) chi.Router {
	t.Helper()
	handler, err := NewAdminHandlers(orders, allocator)
	if err != nil {
		t.Fatalf("NewAdminHandlers: %v", err)
	}
	router := chi.NewRouter()
	handler.Routes(router)
	return router
}

func TestApproveOrderPassesActor(t *testing.T) {
	var gotActor string
	orders := &stubOrderService{
		approveFn: func(_ context.Context, orderID, actorID string) (domain.Order, error) {
			gotActor = actorID
			return domain.Order{ID: orderID, Payment: domain.PaymentInfo{Status: domain.OrderStatusPaid}}, nil
		},
	}
	router := newAdminRouter(t, orders, &stubAllocationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodPost, "/orders/ord-1/approve", auth.Identity{UID: "staff-1", Roles: []string{auth.RoleAdmin}}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotActor != "staff-1" {
		t.Fatalf("expected actor staff-1, got %q", gotActor)
	}
}

func TestRefundInvalidTransitionConflicts(t *testing.T) {
	orders := &stubOrderService{
		refundFn: func(context.Context, string, string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidTransition
		},
	}
	router := newAdminRouter(t, orders, &stubAllocationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodPost, "/orders/ord-1/refund", auth.Identity{UID: "staff-1"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDeliverLineRejectsBadIndex(t *testing.T) {
	router := newAdminRouter(t, &stubOrderService{}, &stubAllocationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodPost, "/orders/ord-1/lines/abc/deliver", auth.Identity{UID: "staff-1"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeliverLineAutomaticLineConflicts(t *testing.T) {
	orders := &stubOrderService{
		deliverFn: func(context.Context, string, int, string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderLineNotManual
		},
	}
	router := newAdminRouter(t, orders, &stubAllocationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(http.MethodPost, "/orders/ord-1/lines/0/deliver", auth.Identity{UID: "staff-1"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestAddStockInsertsBatch(t *testing.T) {
	var gotCmd services.AddStockCommand
	allocator := &stubAllocationService{
		addStockFn: func(_ context.Context, cmd services.AddStockCommand) (int, error) {
			gotCmd = cmd
			return 7, nil
		},
	}
	router := newAdminRouter(t, &stubOrderService{}, allocator)

	body := bytes.NewBufferString(`{"productRef":"prod-1","codes":["AAA-1","AAA-2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/stock", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UID: "staff-1"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotCmd.ProductRef != "prod-1" || len(gotCmd.Codes) != 2 {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp["added"].(float64) != 2 || resp["remaining"].(float64) != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAddStockDuplicateCodeIsBadRequest(t *testing.T) {
	allocator := &stubAllocationService{
		addStockFn: func(context.Context, services.AddStockCommand) (int, error) {
			return 0, services.ErrAllocationInvalidInput
		},
	}
	router := newAdminRouter(t, &stubOrderService{}, allocator)

	body := bytes.NewBufferString(`{"productRef":"prod-1","codes":["AAA-1","AAA-1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/stock", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UID: "staff-1"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAddStockRequiresCodes(t *testing.T) {
	router := newAdminRouter(t, &stubOrderService{}, &stubAllocationService{})

	body := bytes.NewBufferString(`{"productRef":"prod-1","codes":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/stock", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UID: "staff-1"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
