package services

import (
	"context"
	"time"

	domain "github.com/keyforge-store/api/internal/domain"
)

// AllocationCommand requests stock items for one order line.
type AllocationCommand struct {
	ProductRef string
	VariantRef *string
	Quantity   int
	OrderRef   string
	UserRef    string
}

// AllocationResult reports the bound items and the visible stock left behind.
type AllocationResult struct {
	Items     []domain.StockItem
	Remaining int
}

// AddStockCommand inserts freshly generated codes into the pool.
type AddStockCommand struct {
	ProductRef string
	VariantRef *string
	Codes      []string
	Metadata   map[string]any
}

// AllocationService binds uniquely-coded stock items to buyers and keeps the
// catalog's visible stock counters in sync with the pool.
type AllocationService interface {
	Allocate(ctx context.Context, cmd AllocationCommand) (AllocationResult, error)
	AddStock(ctx context.Context, cmd AddStockCommand) (int, error)
	RefreshVisibleStock(ctx context.Context, productRef string, variantRef *string) (int, error)
}

// LineDelivery is the per-line outcome of one fulfillment pass.
type LineDelivery struct {
	LineIndex  int
	ProductRef string
	VariantRef *string
	Manual     bool
	Fulfilled  bool
	Codes      []string
	Reason     string
}

// FulfillmentResult reports what one fulfillment pass did.
type FulfillmentResult struct {
	Order      domain.Order
	State      domain.FulfillmentState
	Deliveries []LineDelivery
}

// FulfillmentService runs the idempotent delivery pass over a paid order.
type FulfillmentService interface {
	Fulfill(ctx context.Context, orderID string) (FulfillmentResult, error)
}

// PaymentStatusResult is the resolved payment view returned to clients.
type PaymentStatusResult struct {
	OrderID       string
	OrderStatus   domain.OrderStatus
	PaymentStatus string
	IsPaid        bool
	FromCache     bool
}

// PaymentStatusService resolves an order's payment state, consulting the
// upstream provider when the local state is not conclusive. paymentID is
// optional; when empty the provider reference stored on the order is used.
type PaymentStatusService interface {
	Resolve(ctx context.Context, orderID, paymentID string) (PaymentStatusResult, error)
}

// OrderService exposes order reads and the staff-facing transitions.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ApproveOrder(ctx context.Context, orderID, actorID string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID, actorID string) (domain.Order, error)
	RefundOrder(ctx context.Context, orderID, actorID string) (domain.Order, error)
	DeliverLine(ctx context.Context, orderID string, lineIndex int, actorID string) (domain.Order, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}
