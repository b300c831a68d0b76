// Package events publishes order lifecycle notifications for downstream
// consumers such as e-mail delivery and analytics pipelines.
package events

import "context"

// Event names emitted by the API.
const (
	EventOrderPaid      = "order.paid"
	EventOrderFulfilled = "order.fulfilled"
	EventOrderPartially = "order.partially_fulfilled"
	EventOrderCanceled  = "order.canceled"
	EventOrderRefunded  = "order.refunded"
	EventOrderExpired   = "order.expired"
)

// OrderEvent is the payload published for every order lifecycle change.
type OrderEvent struct {
	Event         string `json:"event"`
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber,omitempty"`
	UserRef       string `json:"userRef,omitempty"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
	Fulfillment   string `json:"fulfillment,omitempty"`
	OccurredAt    string `json:"occurredAt"`
}

// Publisher delivers order events to the configured transport.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// NopPublisher drops every event. Used when no topic is configured.
type NopPublisher struct{}

// PublishOrderEvent discards the event.
func (NopPublisher) PublishOrderEvent(context.Context, OrderEvent) (string, error) {
	return "", nil
}
