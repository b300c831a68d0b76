// Package statuscache caches resolved payment statuses so bursts of status
// checks for the same order do not fan out into provider API calls.
package statuscache

import (
	"context"
	"fmt"
	"time"
)

// Entry is the cached resolution for one (order, payment) pair.
type Entry struct {
	OrderStatus   string    `json:"orderStatus"`
	PaymentStatus string    `json:"paymentStatus"`
	IsPaid        bool      `json:"isPaid"`
	ResolvedAt    time.Time `json:"resolvedAt"`
}

// Cache stores entries keyed by order and payment identifier with a caller
// supplied TTL. Lookups past the TTL behave as misses.
type Cache interface {
	Get(ctx context.Context, orderID, paymentID string) (Entry, bool, error)
	Set(ctx context.Context, orderID, paymentID string, entry Entry, ttl time.Duration) error
}

// Key renders the canonical cache key for an order/payment pair.
func Key(orderID, paymentID string) string {
	return fmt.Sprintf("payment-status:%s:%s", orderID, paymentID)
}
