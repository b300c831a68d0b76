package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/payments"
	"github.com/keyforge-store/api/internal/platform/events"
	"github.com/keyforge-store/api/internal/platform/statuscache"
	"github.com/keyforge-store/api/internal/repositories"
)

const (
	defaultPaidTTL    = 5 * time.Minute
	defaultPendingTTL = 30 * time.Second
)

var (
	// ErrPaymentOrderNotFound indicates the order does not exist.
	ErrPaymentOrderNotFound = errors.New("payment status: order not found")
	// ErrPaymentProviderUnavailable indicates the upstream lookup failed. The
	// failure is never cached so the next check retries the provider.
	ErrPaymentProviderUnavailable = errors.New("payment status: provider unavailable")
)

// PaymentLookup resolves the provider's view of a payment. *payments.Manager
// satisfies it.
type PaymentLookup interface {
	LookupPayment(ctx context.Context, method, paymentID string) (payments.Lookup, error)
}

// PaymentStatusServiceDeps bundles the collaborators required to construct a payment status service.
type PaymentStatusServiceDeps struct {
	Orders      repositories.OrderRepository
	Provider    PaymentLookup
	Cache       statuscache.Cache
	Fulfillment FulfillmentService
	Events      events.Publisher
	PaidTTL     time.Duration
	PendingTTL  time.Duration
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentStatusService struct {
	orders      repositories.OrderRepository
	provider    PaymentLookup
	cache       statuscache.Cache
	fulfillment FulfillmentService
	events      events.Publisher
	paidTTL     time.Duration
	pendingTTL  time.Duration
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewPaymentStatusService wires dependencies into a concrete PaymentStatusService implementation.
func NewPaymentStatusService(deps PaymentStatusServiceDeps) (PaymentStatusService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment status service: order repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("payment status service: provider lookup is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("payment status service: cache is required")
	}
	if deps.Fulfillment == nil {
		return nil, errors.New("payment status service: fulfillment service is required")
	}

	paidTTL := deps.PaidTTL
	if paidTTL <= 0 {
		paidTTL = defaultPaidTTL
	}
	pendingTTL := deps.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &paymentStatusService{
		orders:      deps.Orders,
		provider:    deps.Provider,
		cache:       deps.Cache,
		fulfillment: deps.Fulfillment,
		events:      publisher,
		paidTTL:     paidTTL,
		pendingTTL:  pendingTTL,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Resolve answers "is this order paid" using, in order: the local order state,
// the shared cache, then the upstream provider. A paid verdict transitions the
// order and kicks off fulfillment before returning. paymentID is the provider
// reference supplied by the caller (webhook notifications carry it); when
// empty, the reference stored on the order is used instead.
func (s *paymentStatusService) Resolve(ctx context.Context, orderID, paymentID string) (PaymentStatusResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return PaymentStatusResult{}, errors.New("payment status: order id is required")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentStatusResult{}, s.mapOrderError(err)
	}

	now := s.clock()

	// Locally conclusive states never reach the provider.
	switch order.Status() {
	case domain.OrderStatusPaid:
		s.triggerFulfillment(ctx, order)
		return localResult(order), nil
	case domain.OrderStatusCanceled, domain.OrderStatusRefunded, domain.OrderStatusExpired, domain.OrderStatusFailed:
		return localResult(order), nil
	}

	if order.IsExpiredAt(now) {
		expired, err := s.orders.TransitionStatus(ctx, repositories.OrderTransitionRequest{
			OrderID:   orderID,
			From:      []domain.OrderStatus{domain.OrderStatusPending},
			To:        domain.OrderStatusExpired,
			ChangedBy: fulfillmentActor,
			Now:       now,
		})
		if err != nil {
			// Lost the race to another transition; report whatever won.
			if refetched, ferr := s.orders.FindByID(ctx, orderID); ferr == nil {
				return localResult(refetched), nil
			}
			return PaymentStatusResult{}, s.mapOrderError(err)
		}
		s.publishEvent(ctx, expired, events.EventOrderExpired)
		return localResult(expired), nil
	}

	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		paymentID = strings.TrimSpace(order.Payment.TransactionID)
	}
	if paymentID == "" {
		// Nothing to poll yet; the order stays pending until the provider
		// reference arrives via checkout or webhook.
		return localResult(order), nil
	}

	if entry, hit, err := s.cache.Get(ctx, orderID, paymentID); err != nil {
		s.logger(ctx, "payment_status.cache_get_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	} else if hit {
		return PaymentStatusResult{
			OrderID:       orderID,
			OrderStatus:   domain.OrderStatus(entry.OrderStatus),
			PaymentStatus: entry.PaymentStatus,
			IsPaid:        entry.IsPaid,
			FromCache:     true,
		}, nil
	}

	lookup, err := s.provider.LookupPayment(ctx, order.Payment.Method, paymentID)
	if err != nil {
		s.logger(ctx, "payment_status.provider_failed", map[string]any{
			"orderId":   orderID,
			"paymentId": paymentID,
			"error":     err.Error(),
		})
		return PaymentStatusResult{}, fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
	}

	order = s.applyVerdict(ctx, order, lookup, paymentID, now)
	result := PaymentStatusResult{
		OrderID:       orderID,
		OrderStatus:   order.Status(),
		PaymentStatus: lookup.RawStatus,
		IsPaid:        lookup.Status == payments.StatusPaid,
	}

	ttl := s.pendingTTL
	if result.IsPaid {
		ttl = s.paidTTL
	}
	if err := s.cache.Set(ctx, orderID, paymentID, statuscache.Entry{
		OrderStatus:   string(result.OrderStatus),
		PaymentStatus: result.PaymentStatus,
		IsPaid:        result.IsPaid,
		ResolvedAt:    now,
	}, ttl); err != nil {
		s.logger(ctx, "payment_status.cache_set_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}

	return result, nil
}

func (s *paymentStatusService) applyVerdict(ctx context.Context, order domain.Order, lookup payments.Lookup, paymentID string, now time.Time) domain.Order {
	var target domain.OrderStatus
	var eventName string
	switch lookup.Status {
	case payments.StatusPaid:
		target = domain.OrderStatusPaid
		eventName = events.EventOrderPaid
	case payments.StatusCanceled:
		target = domain.OrderStatusCanceled
		eventName = events.EventOrderCanceled
	default:
		return order
	}

	updated, err := s.orders.TransitionStatus(ctx, repositories.OrderTransitionRequest{
		OrderID:       order.ID,
		From:          []domain.OrderStatus{domain.OrderStatusPending},
		To:            target,
		ChangedBy:     fulfillmentActor,
		TransactionID: paymentID,
		Now:           now,
	})
	if err != nil {
		// Another resolver won the transition; the verdict still holds.
		if refetched, ferr := s.orders.FindByID(ctx, order.ID); ferr == nil {
			updated = refetched
		} else {
			updated = order
		}
	} else {
		s.publishEvent(ctx, updated, eventName)
	}

	if target == domain.OrderStatusPaid {
		s.triggerFulfillment(ctx, updated)
	}
	return updated
}

func (s *paymentStatusService) triggerFulfillment(ctx context.Context, order domain.Order) {
	if order.ProductAssigned || order.Fulfillment == domain.FulfillmentCompleted {
		return
	}
	if _, err := s.fulfillment.Fulfill(ctx, order.ID); err != nil && !errors.Is(err, ErrFulfillmentAlreadyHandled) {
		s.logger(ctx, "payment_status.fulfillment_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentStatusService) publishEvent(ctx context.Context, order domain.Order, name string) {
	if _, err := s.events.PublishOrderEvent(ctx, events.OrderEvent{
		Event:         name,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		UserRef:       order.UserRef,
		PaymentStatus: string(order.Status()),
		Fulfillment:   string(order.Fulfillment),
		OccurredAt:    s.clock().Format(time.RFC3339),
	}); err != nil {
		s.logger(ctx, "payment_status.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"event":   name,
			"error":   err.Error(),
		})
	}
}

func (s *paymentStatusService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound {
		return fmt.Errorf("%w: %s", ErrPaymentOrderNotFound, orderErr.Message)
	}
	return err
}

func localResult(order domain.Order) PaymentStatusResult {
	status := order.Status()
	return PaymentStatusResult{
		OrderID:       order.ID,
		OrderStatus:   status,
		PaymentStatus: string(status),
		IsPaid:        status == domain.OrderStatusPaid,
	}
}
