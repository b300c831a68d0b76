package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock item operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates fewer matching unused items than requested.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorDuplicateCode indicates an insert collided with an existing code.
	StockErrorDuplicateCode StockErrorCode = "stock_duplicate_code"
	// StockErrorContention indicates repeated lost races on conditional claims.
	StockErrorContention StockErrorCode = "stock_contention"
)

// StockError wraps stock-pool failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	Message   string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
