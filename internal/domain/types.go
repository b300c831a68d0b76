package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders and payments.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment was confirmed and fulfillment may run.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed indicates the payment provider rejected the payment.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusRefunded indicates a paid order was refunded by staff.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCanceled indicates the order was canceled before payment completed.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusExpired indicates the order passed its expiration timestamp while unpaid.
	OrderStatusExpired OrderStatus = "expired"
)

// FulfillmentState tracks the orthogonal fulfillment progress flag on an order.
type FulfillmentState string

const (
	// FulfillmentNotStarted indicates no fulfillment pass has been claimed yet.
	FulfillmentNotStarted FulfillmentState = "not_started"
	// FulfillmentRunning indicates a fulfillment pass currently holds the claim.
	FulfillmentRunning FulfillmentState = "running"
	// FulfillmentCompleted indicates every line was fulfilled.
	FulfillmentCompleted FulfillmentState = "completed"
	// FulfillmentPartial indicates at least one line was fulfilled and at least one failed.
	FulfillmentPartial FulfillmentState = "partial"
	// FulfillmentFailed indicates a pass ran and no line succeeded; the claim is retakeable.
	FulfillmentFailed FulfillmentState = "failed"
)

// DeliveryType distinguishes code-pool backed inventory from staff-handled inventory.
type DeliveryType string

const (
	// DeliveryAutomatic draws uniquely-coded stock items from the pool at fulfillment.
	DeliveryAutomatic DeliveryType = "automatic"
	// DeliveryManual displays unlimited stock and defers delivery to staff.
	DeliveryManual DeliveryType = "manual"
)

// ManualStockSentinel is the fixed stock value displayed for manual-delivery
// inventory. It is never recomputed from the stock item pool.
const ManualStockSentinel = 99999

// StatusChange is a single immutable entry in an order's status history.
type StatusChange struct {
	Status    OrderStatus
	ChangedBy string
	ChangedAt time.Time
}

// OrderNote is an append-only audit remark attached to an order.
type OrderNote struct {
	Text    string
	AddedBy string
	AddedAt time.Time
}

// PaymentInfo stores the payment method and provider reference for an order.
type PaymentInfo struct {
	Method        string
	Status        OrderStatus
	TransactionID string
}

// OrderLine mirrors a purchased product (and optional variant) at checkout time.
type OrderLine struct {
	ProductRef string
	VariantRef *string
	Name       string
	UnitPrice  int64
	Quantity   int
	// Delivered is meaningful only for manual-delivery lines; automatic lines
	// are considered delivered once stock items are bound.
	Delivered bool
}

// Order captures the order header, its lines and the fulfillment flags.
type Order struct {
	ID              string
	Number          string
	UserRef         string
	Lines           []OrderLine
	TotalAmount     int64
	Payment         PaymentInfo
	ProductAssigned bool
	Fulfillment     FulfillmentState
	StatusHistory   []StatusChange
	Notes           []OrderNote
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Status returns the effective order status, preferring the payment status when set.
func (o Order) Status() OrderStatus {
	if o.Payment.Status != "" {
		return o.Payment.Status
	}
	return OrderStatusPending
}

// IsExpiredAt reports whether a still-pending order has passed its expiration timestamp.
func (o Order) IsExpiredAt(now time.Time) bool {
	if o.Status() != OrderStatusPending {
		return false
	}
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// IsTerminal reports whether the status admits no further transitions.
// paid is terminal only once fulfillment has completed in full.
func (o Order) IsTerminal() bool {
	switch o.Status() {
	case OrderStatusRefunded, OrderStatusCanceled, OrderStatusExpired, OrderStatusFailed:
		return true
	case OrderStatusPaid:
		return o.Fulfillment == FulfillmentCompleted
	default:
		return false
	}
}

// Variant is a named sub-SKU of a product with its own price and stock counter.
type Variant struct {
	ID           string
	Name         string
	Price        int64
	Stock        *int
	DeliveryType DeliveryType
}

// Product is a catalog entry. Stock is used only when the product has no
// variants; a nil Stock on an automatic-delivery product means sold out.
type Product struct {
	ID           string
	Name         string
	Price        int64
	DeliveryType DeliveryType
	Stock        *int
	Variants     []Variant
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasVariants reports whether stock is tracked per variant for this product.
func (p Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// Variant returns the variant with the given id, if present.
func (p Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// StockItem is a single discrete, uniquely-coded credential bound to one
// product (and optionally one variant), consumable at most once.
type StockItem struct {
	ID         string
	ProductRef string
	VariantRef *string
	Code       string
	IsUsed     bool
	AssignedTo *string
	AssignedAt *time.Time
	Metadata   map[string]any
	CreatedAt  time.Time
}

// UserProfile is the projection of a buyer consumed by the fulfillment path.
type UserProfile struct {
	ID            string
	Email         string
	Roles         []string
	OwnedProducts []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
