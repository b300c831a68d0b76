package repositories

import (
	"context"
	"time"

	domain "github.com/keyforge-store/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order headers, their lines and the fulfillment flags.
//
// All mutating operations are conditional: they read and write the order in a
// single transaction so that concurrent triggers resolve to exactly one winner.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)

	// TransitionStatus moves the order's payment status from one of the
	// allowed source states to the target state and appends the history entry
	// in the same conditional write. A lost race yields an OrderError with
	// code OrderErrorInvalidTransition.
	TransitionStatus(ctx context.Context, req OrderTransitionRequest) (domain.Order, error)

	// ClaimFulfillment atomically takes the fulfillment claim for the order.
	// The claim succeeds only from the not_started or failed states and only
	// while productAssigned is false; otherwise an OrderError with code
	// OrderErrorFulfillmentClaimed is returned.
	ClaimFulfillment(ctx context.Context, orderID string, now time.Time) (domain.Order, error)

	// CompleteFulfillment records the outcome of a fulfillment pass:
	// productAssigned (monotonic - never cleared once set), the fulfillment
	// state, a history entry when anything succeeded and audit notes for
	// failed lines.
	CompleteFulfillment(ctx context.Context, req FulfillmentCompletionRequest) (domain.Order, error)

	// MarkLineDelivered sets delivered=true on a single manual-delivery line.
	// The stock item pool is never touched.
	MarkLineDelivered(ctx context.Context, req LineDeliveryRequest) (domain.Order, error)

	// ListPendingExpired returns pending orders whose expiration timestamp
	// passed before the given instant, for the expiry sweeper.
	ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// OrderTransitionRequest describes a conditional status transition.
type OrderTransitionRequest struct {
	OrderID       string
	From          []domain.OrderStatus
	To            domain.OrderStatus
	ChangedBy     string
	TransactionID string
	Now           time.Time
}

// FulfillmentCompletionRequest records the outcome of a fulfillment pass.
type FulfillmentCompletionRequest struct {
	OrderID      string
	State        domain.FulfillmentState
	AnySucceeded bool
	ChangedBy    string
	Notes        []string
	Now          time.Time
}

// LineDeliveryRequest marks one manual-delivery order line as delivered.
type LineDeliveryRequest struct {
	OrderID   string
	LineIndex int
	ActorID   string
	Now       time.Time
}

// StockRepository manages the uniquely-coded stock item pool.
type StockRepository interface {
	// ClaimItems binds up to the requested quantity of unused stock items to
	// the buyer. Each item is flipped isUsed false->true together with
	// assignedTo/assignedAt/metadata in one conditional write, so two
	// concurrent claimants can never take the same code; a lost race counts
	// as zero matches for the loser. Fewer matching unused items than
	// requested yields a StockError with code StockErrorInsufficient and no
	// new assignments from this call.
	ClaimItems(ctx context.Context, req StockClaimRequest) (StockClaimResult, error)

	// CountUnused returns the number of unused items matching the product and
	// variant filter. A nil variant matches only items without a variant.
	CountUnused(ctx context.Context, productRef string, variantRef *string) (int, error)

	// Insert adds new coded items to the pool. Codes are globally unique;
	// a duplicate code yields a conflict error.
	Insert(ctx context.Context, items []domain.StockItem) error
}

// StockClaimRequest identifies the pool slice and the binding target.
type StockClaimRequest struct {
	ProductRef string
	VariantRef *string
	Quantity   int
	OrderRef   string
	UserRef    string
	Now        time.Time
}

// StockClaimResult reports the bound items and the unused count left behind.
type StockClaimResult struct {
	Items     []domain.StockItem
	Remaining int
}

// CatalogRepository reads products and maintains their visible stock counters.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)

	// SetVisibleStock writes the recomputed unused count to the product (or
	// variant) stock field. Manual-delivery targets are left untouched, and a
	// non-variant product whose count reaches zero has the field removed
	// rather than written as 0.
	SetVisibleStock(ctx context.Context, req VisibleStockUpdate) error
}

// VisibleStockUpdate carries a recomputed stock counter for a (product, variant) pair.
type VisibleStockUpdate struct {
	ProductID string
	VariantID *string
	Remaining int
	Now       time.Time
}

// UserRepository stores buyer profiles and their owned-products set.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)

	// AddOwnedProducts unions the given product ids into the buyer's
	// owned-products set; re-adding an owned product is a no-op.
	AddOwnedProducts(ctx context.Context, userID string, productIDs []string, now time.Time) error
}
