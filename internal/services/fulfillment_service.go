package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/platform/events"
	"github.com/keyforge-store/api/internal/repositories"
)

const fulfillmentActor = "system"

var (
	// ErrFulfillmentOrderNotFound indicates the order does not exist.
	ErrFulfillmentOrderNotFound = errors.New("fulfillment: order not found")
	// ErrFulfillmentNotPaid indicates the order has not been paid yet.
	ErrFulfillmentNotPaid = errors.New("fulfillment: order is not paid")
	// ErrFulfillmentAlreadyHandled indicates another pass holds or finished the
	// claim; concurrent triggers observe this instead of double delivery.
	ErrFulfillmentAlreadyHandled = errors.New("fulfillment: already handled")
	// ErrFulfillmentFinalWrite indicates the order update failed after stock
	// items were already consumed. Codes stay bound; the order needs staff
	// attention.
	ErrFulfillmentFinalWrite = errors.New("fulfillment: final order write failed")
)

// FulfillmentServiceDeps bundles the collaborators required to construct a fulfillment service.
type FulfillmentServiceDeps struct {
	Orders    repositories.OrderRepository
	Users     repositories.UserRepository
	Allocator AllocationService
	Events    events.Publisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders    repositories.OrderRepository
	users     repositories.UserRepository
	allocator AllocationService
	events    events.Publisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewFulfillmentService wires dependencies into a concrete FulfillmentService implementation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("fulfillment service: user repository is required")
	}
	if deps.Allocator == nil {
		return nil, errors.New("fulfillment service: allocation service is required")
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

	return &fulfillmentService{
		orders:    deps.Orders,
		users:     deps.Users,
		allocator: deps.Allocator,
		events:    publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Fulfill runs one delivery pass over a paid order. The pass first takes the
// fulfillment claim, then allocates codes line by line. Lines fail
// independently: one sold-out product does not block the others. The
// productAssigned flag is only set when at least one line succeeded, so a
// fully failed pass leaves the claim retakeable.
func (s *fulfillmentService) Fulfill(ctx context.Context, orderID string) (FulfillmentResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return FulfillmentResult{}, errors.New("fulfillment: order id is required")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return FulfillmentResult{}, s.mapOrderError(err)
	}
	if order.Status() != domain.OrderStatusPaid {
		return FulfillmentResult{}, fmt.Errorf("%w: order %s is %s", ErrFulfillmentNotPaid, orderID, order.Status())
	}

	now := s.clock()
	order, err = s.orders.ClaimFulfillment(ctx, orderID, now)
	if err != nil {
		return FulfillmentResult{}, s.mapOrderError(err)
	}
	s.logger(ctx, "fulfillment.claimed", map[string]any{"orderId": orderID})

	deliveries := make([]LineDelivery, 0, len(order.Lines))
	var notes []string
	succeeded, failed := 0, 0

	for i, line := range order.Lines {
		delivery := LineDelivery{
			LineIndex:  i,
			ProductRef: line.ProductRef,
			VariantRef: line.VariantRef,
		}

		result, allocErr := s.allocator.Allocate(ctx, AllocationCommand{
			ProductRef: line.ProductRef,
			VariantRef: line.VariantRef,
			Quantity:   line.Quantity,
			OrderRef:   orderID,
			UserRef:    order.UserRef,
		})
		switch {
		case allocErr == nil:
			delivery.Fulfilled = true
			delivery.Codes = make([]string, len(result.Items))
			for j, item := range result.Items {
				delivery.Codes[j] = item.Code
			}
			succeeded++
		case errors.Is(allocErr, ErrAllocationManualDelivery):
			// Staff hands these over later; nothing to draw from the pool.
			delivery.Manual = true
			delivery.Fulfilled = true
			succeeded++
		default:
			delivery.Reason = allocErr.Error()
			notes = append(notes, fmt.Sprintf("line %d (%s): %s", i, line.ProductRef, allocErr.Error()))
			failed++
		}
		deliveries = append(deliveries, delivery)
	}

	state := domain.FulfillmentCompleted
	switch {
	case succeeded == 0:
		state = domain.FulfillmentFailed
	case failed > 0:
		state = domain.FulfillmentPartial
	}

	if succeeded > 0 {
		owned := make([]string, 0, succeeded)
		for _, d := range deliveries {
			if d.Fulfilled {
				owned = append(owned, d.ProductRef)
			}
		}
		if err := s.users.AddOwnedProducts(ctx, order.UserRef, owned, now); err != nil {
			// Ownership is derivable from the order itself; record and move on.
			notes = append(notes, fmt.Sprintf("owned products update failed: %s", err.Error()))
			s.logger(ctx, "fulfillment.owned_products_failed", map[string]any{
				"orderId": orderID,
				"userRef": order.UserRef,
				"error":   err.Error(),
			})
		}
	}

	updated, err := s.orders.CompleteFulfillment(ctx, repositories.FulfillmentCompletionRequest{
		OrderID:      orderID,
		State:        state,
		AnySucceeded: succeeded > 0,
		ChangedBy:    fulfillmentActor,
		Notes:        notes,
		Now:          s.clock(),
	})
	if err != nil {
		s.logger(ctx, "fulfillment.final_write_failed", map[string]any{
			"orderId":   orderID,
			"state":     string(state),
			"succeeded": succeeded,
			"error":     err.Error(),
		})
		return FulfillmentResult{}, fmt.Errorf("%w: %s", ErrFulfillmentFinalWrite, err.Error())
	}

	s.publishOutcome(ctx, updated, state)
	s.logger(ctx, "fulfillment.finished", map[string]any{
		"orderId":   orderID,
		"state":     string(state),
		"succeeded": succeeded,
		"failed":    failed,
	})

	return FulfillmentResult{Order: updated, State: state, Deliveries: deliveries}, nil
}

func (s *fulfillmentService) publishOutcome(ctx context.Context, order domain.Order, state domain.FulfillmentState) {
	var name string
	switch state {
	case domain.FulfillmentCompleted:
		name = events.EventOrderFulfilled
	case domain.FulfillmentPartial:
		name = events.EventOrderPartially
	default:
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, events.OrderEvent{
		Event:         name,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		UserRef:       order.UserRef,
		PaymentStatus: string(order.Status()),
		Fulfillment:   string(state),
		OccurredAt:    s.clock().Format(time.RFC3339),
	}); err != nil {
		s.logger(ctx, "fulfillment.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *fulfillmentService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrFulfillmentOrderNotFound, orderErr.Message)
		case repositories.OrderErrorFulfillmentClaimed:
			return fmt.Errorf("%w: %s", ErrFulfillmentAlreadyHandled, orderErr.Message)
		}
	}
	return err
}
