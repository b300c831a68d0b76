package services

import (
	"context"
	"time"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/payments"
	"github.com/keyforge-store/api/internal/platform/events"
	"github.com/keyforge-store/api/internal/platform/statuscache"
	"github.com/keyforge-store/api/internal/repositories"
)

type stubOrderRepository struct {
	findByIDFn            func(ctx context.Context, orderID string) (domain.Order, error)
	transitionStatusFn    func(ctx context.Context, req repositories.OrderTransitionRequest) (domain.Order, error)
	claimFulfillmentFn    func(ctx context.Context, orderID string, now time.Time) (domain.Order, error)
	completeFulfillmentFn func(ctx context.Context, req repositories.FulfillmentCompletionRequest) (domain.Order, error)
	markLineDeliveredFn   func(ctx context.Context, req repositories.LineDeliveryRequest) (domain.Order, error)
	listPendingExpiredFn  func(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return s.findByIDFn(ctx, orderID)
}

func (s *stubOrderRepository) TransitionStatus(ctx context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
	return s.transitionStatusFn(ctx, req)
}

func (s *stubOrderRepository) ClaimFulfillment(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	return s.claimFulfillmentFn(ctx, orderID, now)
}

func (s *stubOrderRepository) CompleteFulfillment(ctx context.Context, req repositories.FulfillmentCompletionRequest) (domain.Order, error) {
	return s.completeFulfillmentFn(ctx, req)
}

func (s *stubOrderRepository) MarkLineDelivered(ctx context.Context, req repositories.LineDeliveryRequest) (domain.Order, error) {
	return s.markLineDeliveredFn(ctx, req)
}

func (s *stubOrderRepository) ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	return s.listPendingExpiredFn(ctx, before, limit)
}

type stubStockRepository struct {
	claimItemsFn  func(ctx context.Context, req repositories.StockClaimRequest) (repositories.StockClaimResult, error)
	countUnusedFn func(ctx context.Context, productRef string, variantRef *string) (int, error)
	insertFn      func(ctx context.Context, items []domain.StockItem) error
}

func (s *stubStockRepository) ClaimItems(ctx context.Context, req repositories.StockClaimRequest) (repositories.StockClaimResult, error) {
	return s.claimItemsFn(ctx, req)
}

func (s *stubStockRepository) CountUnused(ctx context.Context, productRef string, variantRef *string) (int, error) {
	return s.countUnusedFn(ctx, productRef, variantRef)
}

func (s *stubStockRepository) Insert(ctx context.Context, items []domain.StockItem) error {
	return s.insertFn(ctx, items)
}

type stubCatalogRepository struct {
	getProductFn      func(ctx context.Context, productID string) (domain.Product, error)
	setVisibleStockFn func(ctx context.Context, req repositories.VisibleStockUpdate) error
}

func (s *stubCatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	return s.getProductFn(ctx, productID)
}

func (s *stubCatalogRepository) SetVisibleStock(ctx context.Context, req repositories.VisibleStockUpdate) error {
	return s.setVisibleStockFn(ctx, req)
}

type stubUserRepository struct {
	findByIDFn         func(ctx context.Context, userID string) (domain.UserProfile, error)
	addOwnedProductsFn func(ctx context.Context, userID string, productIDs []string, now time.Time) error
}

func (s *stubUserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	return s.findByIDFn(ctx, userID)
}

func (s *stubUserRepository) AddOwnedProducts(ctx context.Context, userID string, productIDs []string, now time.Time) error {
	return s.addOwnedProductsFn(ctx, userID, productIDs, now)
}

type stubAllocationService struct {
	allocateFn func(ctx context.Context, cmd AllocationCommand) (AllocationResult, error)
}

func (s *stubAllocationService) Allocate(ctx context.Context, cmd AllocationCommand) (AllocationResult, error) {
	return s.allocateFn(ctx, cmd)
}

func (s *stubAllocationService) AddStock(context.Context, AddStockCommand) (int, error) {
	return 0, nil
}

func (s *stubAllocationService) RefreshVisibleStock(context.Context, string, *string) (int, error) {
	return 0, nil
}

type stubFulfillmentService struct {
	fulfillFn func(ctx context.Context, orderID string) (FulfillmentResult, error)
}

func (s *stubFulfillmentService) Fulfill(ctx context.Context, orderID string) (FulfillmentResult, error) {
	return s.fulfillFn(ctx, orderID)
}

type stubPaymentLookup struct {
	lookupFn func(ctx context.Context, method, paymentID string) (payments.Lookup, error)
}

func (s *stubPaymentLookup) LookupPayment(ctx context.Context, method, paymentID string) (payments.Lookup, error) {
	return s.lookupFn(ctx, method, paymentID)
}

type recordedEvent struct {
	event events.OrderEvent
}

type stubPublisher struct {
	published []recordedEvent
	publishFn func(ctx context.Context, event events.OrderEvent) (string, error)
}

func (s *stubPublisher) PublishOrderEvent(ctx context.Context, event events.OrderEvent) (string, error) {
	s.published = append(s.published, recordedEvent{event: event})
	if s.publishFn != nil {
		return s.publishFn(ctx, event)
	}
	return "msg-1", nil
}

type cacheSet struct {
	orderID   string
	paymentID string
	entry     statuscache.Entry
	ttl       time.Duration
}

type stubCache struct {
	getFn func(ctx context.Context, orderID, paymentID string) (statuscache.Entry, bool, error)
	sets  []cacheSet
	setFn func(ctx context.Context, orderID, paymentID string, entry statuscache.Entry, ttl time.Duration) error
}

func (s *stubCache) Get(ctx context.Context, orderID, paymentID string) (statuscache.Entry, bool, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, paymentID)
	}
	return statuscache.Entry{}, false, nil
}

func (s *stubCache) Set(ctx context.Context, orderID, paymentID string, entry statuscache.Entry, ttl time.Duration) error {
	s.sets = append(s.sets, cacheSet{orderID: orderID, paymentID: paymentID, entry: entry, ttl: ttl})
	if s.setFn != nil {
		return s.setFn(ctx, orderID, paymentID, entry, ttl)
	}
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func strPtr(s string) *string { return &s }
