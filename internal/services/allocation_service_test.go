package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/keyforge-store/api/internal/domain"
	"github.com/keyforge-store/api/internal/repositories"
)

func automaticProduct(id string) domain.Product {
	return domain.Product{ID: id, Name: "Pro License", DeliveryType: domain.DeliveryAutomatic}
}

func TestAllocateClaimsAndRefreshesVisibleStock(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var claimReq repositories.StockClaimRequest
	var visibleReq repositories.VisibleStockUpdate

	stock := &stubStockRepository{
		claimItemsFn: func(_ context.Context, req repositories.StockClaimRequest) (repositories.StockClaimResult, error) {
			claimReq = req
			return repositories.StockClaimResult{
				Items: []domain.StockItem{
					{ID: "item-1", Code: "KEY-AAA"},
					{ID: "item-2", Code: "KEY-BBB"},
				},
				Remaining: 7,
			}, nil
		},
	}
	catalog := &stubCatalogRepository{
		getProductFn: func(_ context.Context, id string) (domain.Product, error) {
			return automaticProduct(id), nil
		},
		setVisibleStockFn: func(_ context.Context, req repositories.VisibleStockUpdate) error {
			visibleReq = req
			return nil
		},
	}

	svc, err := NewAllocationService(AllocationServiceDeps{
		Stock:   stock,
		Catalog: catalog,
		Clock:   fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewAllocationService: %v", err)
	}

	result, err := svc.Allocate(context.Background(), AllocationCommand{
		ProductRef: "prod-1",
		Quantity:   2,
		OrderRef:   "ord-1",
		UserRef:    "user-1",
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(result.Items) != 2 || result.Remaining != 7 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if claimReq.OrderRef != "ord-1" || claimReq.UserRef != "user-1" || claimReq.Quantity != 2 {
		t.Fatalf("unexpected claim request: %+v", claimReq)
	}
	if visibleReq.ProductID != "prod-1" || visibleReq.Remaining != 7 {
		t.Fatalf("unexpected visible stock update: %+v", visibleReq)
	}
}

func TestAllocateRejectsManualDelivery(t *testing.T) {
	catalog := &stubCatalogRepository{
		getProductFn: func(_ context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, DeliveryType: domain.DeliveryManual}, nil
		},
	}
	stock := &stubStockRepository{
		claimItemsFn: func(context.Context, repositories.StockClaimRequest) (repositories.StockClaimResult, error) {
			t.Fatal("claim must not run for manual delivery")
			return repositories.StockClaimResult{}, nil
		},
	}

	svc, err := NewAllocationService(AllocationServiceDeps{Stock: stock, Catalog: catalog})
	if err != nil {
		t.Fatalf("NewAllocationService: %v", err)
	}

	_, err = svc.Allocate(context.Background(), AllocationCommand{
		ProductRef: "prod-manual",
		Quantity:   1,
		UserRef:    "user-1",
	})
	if !errors.Is(err, ErrAllocationManualDelivery) {
		t.Fatalf("expected ErrAllocationManualDelivery, got %v", err)
	}
}

func TestAllocateVariantDeliveryTypeOverridesProduct(t *testing.T) {
	catalog := &stubCatalogRepository{
		getProductFn: func(_ context.Context, id string) (domain.Product, error) {
			return domain.Product{
				ID:           id,
				DeliveryType: domain.DeliveryAutomatic,
				Variants: []domain.Variant{
					{ID: "var-manual", DeliveryType: domain.DeliveryManual},
				},
			}, nil
		},
	}
	svc, err := NewAllocationService(AllocationServiceDeps{
		Stock: &stubStockRepository{
			claimItemsFn: func(context.Context, repositories.StockClaimRequest) (repositories.StockClaimResult, error) {
				t.Fatal("claim must not run for manual variant")
				return repositories.StockClaimResult{}, nil
			},
		},
		Catalog: catalog,
	})
	if err != nil {
		t.Fatalf("NewAllocationService: %v", err)
	}

	_, err = svc.Allocate(context.Background(), AllocationCommand{
		ProductRef: "prod-1",
		VariantRef: strPtr("var-manual"),
		Quantity:   1,
		UserRef:    "user-1",
	})
	if !errors.Is(err, ErrAllocationManualDelivery) {
		t.Fatalf("expected ErrAllocationManualDelivery, got %v", err)
	}
}

func TestAllocateMapsInsufficientStock(t *testing.T) {
	stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, "only 1 left", nil)
	stockErr.Requested = 3
	stockErr.Available = 1

	svc, err := NewAllocationService(AllocationServiceDeps{
		Stock: &stubStockRepository{
			claimItemsFn: func(context.Context, repositories.StockClaimRequest) (repositories.StockClaimResult, error) {
				return repositories.StockClaimResult{}, stockErr
			},
		},
		Catalog: &stubCatalogRepository{
			getProductFn: func(_ context.Context, id string) (domain.Product, error) {
				return automaticProduct(id), nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewAllocationService: %v", err)
	}

	_, err = svc.Allocate(context.Background(), AllocationCommand{
		ProductRef: "prod-1",
		Quantity:   3,
		UserRef:    "user-1",
	})
	if !errors.Is(err, ErrAllocationInsufficientStock) {
		t.Fatalf("expected ErrAllocationInsufficientStock, got %v", err)
	}
}

func TestAllocateSurvivesVisibleStockFailure(t *testing.T) {
	svc, err := NewAllocationService(AllocationServiceDeps{
		Stock: &stubStockRepository{
			claimItemsFn: func(context.Context, repositories.StockClaimRequest) (repositories.StockClaimResult, error) {
				return repositories.StockClaimResult{Items: []domain.StockItem{{ID: "item-1", Code: "KEY-AAA"}}, Remaining: 0}, nil
			},
		},
		Catalog: &stubCatalogRepository{
			getProductFn: func(_ context.Context, id string) (domain.Product, error) {
				return automaticProduct(id), nil
			},
			setVisibleStockFn: func(context.Context, repositories.VisibleStockUpdate) error {
				return errors.New("firestore unavailable")
			},
		},
	})
	if err != nil {
		t.Fatalf("NewAllocationService: %v", err)
	}

	result, err := svc.Allocate(context.Background(), AllocationCommand{
		ProductRef: "prod-1",
		Quantity:   1,
		UserRef:    "user-1",
	})
	if err != nil {
		t.Fatalf("claim succeeded, counter refresh failure must not fail allocation: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAddStockRejectsDuplicateCodesInBatch(t *testing.T) {
	svc, err := NewAllocationService(AllocationServiceDeps{
		Stock: &stubStockRepository{
			insertFn: func(context.Context, []domain.StockItem) error {
				t.Fatal("insert must not run for invalid batch")
				return nil
			},
		},
		Catalog: &stubCatalogRepository{
			getProductFn: func(_ context.Context, id string) (domain.Product, error) {
				return automaticProduct(id), nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewAllocationService: %v", err)
	}

	_, err = svc.AddStock(context.Background(), AddStockCommand{
		ProductRef: "prod-1",
		Codes:      []string{"KEY-AAA", "KEY-AAA"},
	})
	if !errors.Is(err, ErrAllocationInvalidInput) {
		t.Fatalf("expected ErrAllocationInvalidInput, got %v", err)
	}
}

func TestAddStockGeneratesItemIDs(t *testing.T) {
	var inserted []domain.StockItem
	svc, err := NewAllocationService(AllocationServiceDeps{
		Stock: &stubStockRepository{
			insertFn: func(_ context.Context, items []domain.StockItem) error {
				inserted = items
				return nil
			},
			countUnusedFn: func(context.Context, string, *string) (int, error) {
				return 2, nil
			},
		},
		Catalog: &stubCatalogRepository{
			getProductFn: func(_ context.Context, id string) (domain.Product, error) {
				return automaticProduct(id), nil
			},
			setVisibleStockFn: func(context.Context, repositories.VisibleStockUpdate) error {
				return nil
			},
		},
		IDGenerator: func() string { return "fixed-id" },
	})
	if err != nil {
		t.Fatalf("NewAllocationService: %v", err)
	}

	remaining, err := svc.AddStock(context.Background(), AddStockCommand{
		ProductRef: "prod-1",
		Codes:      []string{"KEY-AAA", "KEY-BBB"},
	})
	if err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d", remaining)
	}
	if len(inserted) != 2 || inserted[0].ID != "fixed-id" || inserted[1].Code != "KEY-BBB" {
		t.Fatalf("unexpected inserted items: %+v", inserted)
	}
}

func TestRefreshVisibleStockReturnsSentinelForManual(t *testing.T) {
	svc, err := NewAllocationService(AllocationServiceDeps{
		Stock: &stubStockRepository{
			countUnusedFn: func(context.Context, string, *string) (int, error) {
				t.Fatal("count must not run for manual delivery")
				return 0, nil
			},
		},
		Catalog: &stubCatalogRepository{
			getProductFn: func(_ context.Context, id string) (domain.Product, error) {
				return domain.Product{ID: id, DeliveryType: domain.DeliveryManual}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewAllocationService: %v", err)
	}

	remaining, err := svc.RefreshVisibleStock(context.Background(), "prod-manual", nil)
	if err != nil {
		t.Fatalf("RefreshVisibleStock: %v", err)
	}
	if remaining != domain.ManualStockSentinel {
		t.Fatalf("expected sentinel %d, got %d", domain.ManualStockSentinel, remaining)
	}
}
