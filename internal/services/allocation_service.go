package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/repositories"
)

const (
	eventStockAllocated = "stock.allocated"
	eventStockAdded     = "stock.added"
	eventStockRefreshed = "stock.refreshed"
)

var (
	// ErrAllocationInvalidInput signals the caller provided invalid arguments.
	ErrAllocationInvalidInput = errors.New("allocation: invalid input")
	// ErrAllocationInsufficientStock indicates fewer unused items than requested.
	ErrAllocationInsufficientStock = errors.New("allocation: insufficient stock")
	// ErrAllocationManualDelivery indicates the target is staff-delivered and
	// never draws from the pool.
	ErrAllocationManualDelivery = errors.New("allocation: manual delivery target")
	// ErrAllocationProductNotFound indicates the catalog has no such product.
	ErrAllocationProductNotFound = errors.New("allocation: product not found")
	// ErrAllocationContention indicates the pool was too contended to claim from.
	ErrAllocationContention = errors.New("allocation: pool contention")
)

// AllocationServiceDeps bundles the collaborators required to construct an allocation service.
type AllocationServiceDeps struct {
	Stock       repositories.StockRepository
	Catalog     repositories.CatalogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type allocationService struct {
	stock   repositories.StockRepository
	catalog repositories.CatalogRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewAllocationService wires dependencies into a concrete AllocationService implementation.
func NewAllocationService(deps AllocationServiceDeps) (AllocationService, error) {
	if deps.Stock == nil {
		return nil, errors.New("allocation service: stock repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("allocation service: catalog repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &allocationService{
		stock:   deps.Stock,
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Allocate claims quantity unused items for the buyer and refreshes the
// visible stock counter. Manual-delivery targets are rejected: they display
// the fixed sentinel and never draw from the pool.
func (s *allocationService) Allocate(ctx context.Context, cmd AllocationCommand) (AllocationResult, error) {
	productRef := strings.TrimSpace(cmd.ProductRef)
	if productRef == "" {
		return AllocationResult{}, fmt.Errorf("%w: product ref is required", ErrAllocationInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return AllocationResult{}, fmt.Errorf("%w: quantity must be > 0", ErrAllocationInvalidInput)
	}
	if strings.TrimSpace(cmd.UserRef) == "" {
		return AllocationResult{}, fmt.Errorf("%w: user ref is required", ErrAllocationInvalidInput)
	}

	delivery, err := s.resolveDeliveryType(ctx, productRef, cmd.VariantRef)
	if err != nil {
		return AllocationResult{}, err
	}
	if delivery == domain.DeliveryManual {
		return AllocationResult{}, fmt.Errorf("%w: product %s", ErrAllocationManualDelivery, productRef)
	}

	now := s.clock()
	result, err := s.stock.ClaimItems(ctx, repositories.StockClaimRequest{
		ProductRef: productRef,
		VariantRef: cmd.VariantRef,
		Quantity:   cmd.Quantity,
		OrderRef:   strings.TrimSpace(cmd.OrderRef),
		UserRef:    strings.TrimSpace(cmd.UserRef),
		Now:        now,
	})
	if err != nil {
		return AllocationResult{}, s.mapStockError(err)
	}

	if err := s.catalog.SetVisibleStock(ctx, repositories.VisibleStockUpdate{
		ProductID: productRef,
		VariantID: cmd.VariantRef,
		Remaining: result.Remaining,
		Now:       now,
	}); err != nil {
		// The claim already happened; a stale counter self-heals on the next
		// refresh, so this is logged rather than unwound.
		s.logger(ctx, "stock.visible_refresh_failed", map[string]any{
			"productRef": productRef,
			"error":      err.Error(),
		})
	}

	s.logger(ctx, eventStockAllocated, map[string]any{
		"productRef": productRef,
		"orderRef":   cmd.OrderRef,
		"quantity":   cmd.Quantity,
		"remaining":  result.Remaining,
	})
	return AllocationResult{Items: result.Items, Remaining: result.Remaining}, nil
}

// AddStock inserts freshly generated codes into the pool and refreshes the
// visible counter. It returns the unused count after insertion.
func (s *allocationService) AddStock(ctx context.Context, cmd AddStockCommand) (int, error) {
	productRef := strings.TrimSpace(cmd.ProductRef)
	if productRef == "" {
		return 0, fmt.Errorf("%w: product ref is required", ErrAllocationInvalidInput)
	}
	if len(cmd.Codes) == 0 {
		return 0, fmt.Errorf("%w: at least one code is required", ErrAllocationInvalidInput)
	}

	now := s.clock()
	items := make([]domain.StockItem, 0, len(cmd.Codes))
	seen := make(map[string]struct{}, len(cmd.Codes))
	for _, code := range cmd.Codes {
		code = strings.TrimSpace(code)
		if code == "" {
			return 0, fmt.Errorf("%w: empty code", ErrAllocationInvalidInput)
		}
		if _, dup := seen[code]; dup {
			return 0, fmt.Errorf("%w: duplicate code in batch", ErrAllocationInvalidInput)
		}
		seen[code] = struct{}{}
		items = append(items, domain.StockItem{
			ID:         s.newID(),
			ProductRef: productRef,
			VariantRef: cmd.VariantRef,
			Code:       code,
			Metadata:   cmd.Metadata,
			CreatedAt:  now,
		})
	}

	if err := s.stock.Insert(ctx, items); err != nil {
		return 0, s.mapStockError(err)
	}

	remaining, err := s.RefreshVisibleStock(ctx, productRef, cmd.VariantRef)
	if err != nil && !errors.Is(err, ErrAllocationManualDelivery) {
		return 0, err
	}

	s.logger(ctx, eventStockAdded, map[string]any{
		"productRef": productRef,
		"count":      len(items),
		"remaining":  remaining,
	})
	return remaining, nil
}

// RefreshVisibleStock recomputes the unused count and writes it to the
// catalog. Manual-delivery targets are skipped and keep their sentinel.
func (s *allocationService) RefreshVisibleStock(ctx context.Context, productRef string, variantRef *string) (int, error) {
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return 0, fmt.Errorf("%w: product ref is required", ErrAllocationInvalidInput)
	}

	delivery, err := s.resolveDeliveryType(ctx, productRef, variantRef)
	if err != nil {
		return 0, err
	}
	if delivery == domain.DeliveryManual {
		return domain.ManualStockSentinel, nil
	}

	remaining, err := s.stock.CountUnused(ctx, productRef, variantRef)
	if err != nil {
		return 0, s.mapStockError(err)
	}
	if err := s.catalog.SetVisibleStock(ctx, repositories.VisibleStockUpdate{
		ProductID: productRef,
		VariantID: variantRef,
		Remaining: remaining,
		Now:       s.clock(),
	}); err != nil {
		return 0, s.mapStockError(err)
	}

	s.logger(ctx, eventStockRefreshed, map[string]any{
		"productRef": productRef,
		"remaining":  remaining,
	})
	return remaining, nil
}

func (s *allocationService) resolveDeliveryType(ctx context.Context, productRef string, variantRef *string) (domain.DeliveryType, error) {
	product, err := s.catalog.GetProduct(ctx, productRef)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return "", fmt.Errorf("%w: %s", ErrAllocationProductNotFound, productRef)
		}
		return "", err
	}
	if variantRef != nil {
		variant, ok := product.Variant(strings.TrimSpace(*variantRef))
		if !ok {
			return "", fmt.Errorf("%w: variant %s", ErrAllocationProductNotFound, *variantRef)
		}
		return variant.DeliveryType, nil
	}
	return product.DeliveryType, nil
}

func (s *allocationService) mapStockError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %d available, %d requested", ErrAllocationInsufficientStock, stockErr.Available, stockErr.Requested)
		case repositories.StockErrorDuplicateCode:
			return fmt.Errorf("%w: duplicate code", ErrAllocationInvalidInput)
		case repositories.StockErrorContention:
			return fmt.Errorf("%w: %s", ErrAllocationContention, stockErr.Message)
		}
	}
	return err
}
