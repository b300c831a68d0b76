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

var (
	// ErrOrderInvalidInput signals the caller provided invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the order is not in a state the
	// requested transition accepts.
	ErrOrderInvalidTransition = errors.New("order: invalid transition")
	// ErrOrderLineNotFound indicates the line index is out of range.
	ErrOrderLineNotFound = errors.New("order: line not found")
	// ErrOrderLineNotManual indicates the line is pool-delivered and cannot be
	// hand-delivered by staff.
	ErrOrderLineNotManual = errors.New("order: line is not manual delivery")
)

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Fulfillment FulfillmentService
	Events      events.Publisher
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	catalog     repositories.CatalogRepository
	fulfillment FulfillmentService
	events      events.Publisher
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Fulfillment == nil {
		return nil, errors.New("order service: fulfillment service is required")
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

	return &orderService{
		orders:      deps.Orders,
		catalog:     deps.Catalog,
		fulfillment: deps.Fulfillment,
		events:      publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetOrder loads one order.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	return order, nil
}

// ApproveOrder is the staff override that marks an order paid without waiting
// for the provider, then runs fulfillment.
func (s *orderService) ApproveOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	order, err := s.transition(ctx, orderID, actorID,
		[]domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusFailed},
		domain.OrderStatusPaid)
	if err != nil {
		return domain.Order{}, err
	}
	s.publishEvent(ctx, order, events.EventOrderPaid)

	if _, err := s.fulfillment.Fulfill(ctx, order.ID); err != nil && !errors.Is(err, ErrFulfillmentAlreadyHandled) {
		s.logger(ctx, "order.approve_fulfillment_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	// Return the post-fulfillment view.
	if refreshed, err := s.orders.FindByID(ctx, order.ID); err == nil {
		return refreshed, nil
	}
	return order, nil
}

// CancelOrder cancels a still-pending order.
func (s *orderService) CancelOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	order, err := s.transition(ctx, orderID, actorID,
		[]domain.OrderStatus{domain.OrderStatusPending},
		domain.OrderStatusCanceled)
	if err != nil {
		return domain.Order{}, err
	}
	s.publishEvent(ctx, order, events.EventOrderCanceled)
	return order, nil
}

// RefundOrder marks a paid order refunded. Already-assigned stock items stay
// consumed; codes are not returned to the pool.
func (s *orderService) RefundOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	order, err := s.transition(ctx, orderID, actorID,
		[]domain.OrderStatus{domain.OrderStatusPaid},
		domain.OrderStatusRefunded)
	if err != nil {
		return domain.Order{}, err
	}
	s.publishEvent(ctx, order, events.EventOrderRefunded)
	return order, nil
}

// DeliverLine marks one manual-delivery line as handed over by staff.
func (s *orderService) DeliverLine(ctx context.Context, orderID string, lineIndex int, actorID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	if lineIndex < 0 || lineIndex >= len(order.Lines) {
		return domain.Order{}, fmt.Errorf("%w: line %d", ErrOrderLineNotFound, lineIndex)
	}

	line := order.Lines[lineIndex]
	delivery, err := s.lineDeliveryType(ctx, line)
	if err != nil {
		return domain.Order{}, err
	}
	if delivery != domain.DeliveryManual {
		return domain.Order{}, fmt.Errorf("%w: line %d (%s)", ErrOrderLineNotManual, lineIndex, line.ProductRef)
	}

	updated, err := s.orders.MarkLineDelivered(ctx, repositories.LineDeliveryRequest{
		OrderID:   orderID,
		LineIndex: lineIndex,
		ActorID:   strings.TrimSpace(actorID),
		Now:       s.clock(),
	})
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}

	s.logger(ctx, "order.line_delivered", map[string]any{
		"orderId":   orderID,
		"lineIndex": lineIndex,
		"actor":     actorID,
	})
	return updated, nil
}

// ExpireDue sweeps pending orders whose expiration has passed.
func (s *orderService) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.orders.ListPendingExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range due {
		updated, err := s.orders.TransitionStatus(ctx, repositories.OrderTransitionRequest{
			OrderID:   order.ID,
			From:      []domain.OrderStatus{domain.OrderStatusPending},
			To:        domain.OrderStatusExpired,
			ChangedBy: fulfillmentActor,
			Now:       now.UTC(),
		})
		if err != nil {
			// Raced with a payment confirmation or another sweeper; skip.
			var orderErr *repositories.OrderError
			if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorInvalidTransition {
				continue
			}
			return expired, err
		}
		expired++
		s.publishEvent(ctx, updated, events.EventOrderExpired)
	}
	return expired, nil
}

func (s *orderService) transition(ctx context.Context, orderID, actorID string, from []domain.OrderStatus, to domain.OrderStatus) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.TransitionStatus(ctx, repositories.OrderTransitionRequest{
		OrderID:   orderID,
		From:      from,
		To:        to,
		ChangedBy: actorID,
		Now:       s.clock(),
	})
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}

	s.logger(ctx, "order.transition", map[string]any{
		"orderId": orderID,
		"to":      string(to),
		"actor":   actorID,
	})
	return order, nil
}

func (s *orderService) lineDeliveryType(ctx context.Context, line domain.OrderLine) (domain.DeliveryType, error) {
	product, err := s.catalog.GetProduct(ctx, line.ProductRef)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return "", fmt.Errorf("%w: product %s", ErrOrderLineNotFound, line.ProductRef)
		}
		return "", err
	}
	if line.VariantRef != nil {
		if variant, ok := product.Variant(*line.VariantRef); ok {
			return variant.DeliveryType, nil
		}
		return "", fmt.Errorf("%w: variant %s", ErrOrderLineNotFound, *line.VariantRef)
	}
	return product.DeliveryType, nil
}

func (s *orderService) publishEvent(ctx context.Context, order domain.Order, name string) {
	if _, err := s.events.PublishOrderEvent(ctx, events.OrderEvent{
		Event:         name,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		UserRef:       order.UserRef,
		PaymentStatus: string(order.Status()),
		Fulfillment:   string(order.Fulfillment),
		OccurredAt:    s.clock().Format(time.RFC3339),
	}); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"event":   name,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderErr.Message)
		case repositories.OrderErrorInvalidTransition:
			return fmt.Errorf("%w: %s", ErrOrderInvalidTransition, orderErr.Message)
		case repositories.OrderErrorLineNotFound:
			return fmt.Errorf("%w: %s", ErrOrderLineNotFound, orderErr.Message)
		}
	}
	return err
}
