package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for order operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotFound indicates the order document is missing.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorInvalidTransition indicates the current status is outside the
	// allowed source states; concurrent transitions lose with this code.
	OrderErrorInvalidTransition OrderErrorCode = "order_invalid_transition"
	// OrderErrorFulfillmentClaimed indicates fulfillment already ran or is running.
	OrderErrorFulfillmentClaimed OrderErrorCode = "order_fulfillment_claimed"
	// OrderErrorLineNotFound indicates the line index is out of range.
	OrderErrorLineNotFound OrderErrorCode = "order_line_not_found"
	// OrderErrorLineNotManual indicates the line is not a manual-delivery line.
	OrderErrorLineNotManual OrderErrorCode = "order_line_not_manual"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
