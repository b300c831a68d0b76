package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/keyforge-store/api/internal/domain"
	pfirestore "github.com/keyforge-store/api/internal/platform/firestore"
	"github.com/keyforge-store/api/internal/repositories"
)

const productsCollection = "products"

// CatalogRepository reads products and maintains their visible stock counters.
type CatalogRepository struct {
	provider *pfirestore.Provider
}

// NewCatalogRepository constructs a catalog repository over the shared provider.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{provider: provider}, nil
}

// GetProduct loads one product with its variants.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("catalog get: product id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("catalog.get", err)
	}
	snap, err := client.Collection(productsCollection).Doc(productID).Get(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("catalog.get", err)
	}
	doc, err := decodeProduct(snap)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

// SetVisibleStock writes the recomputed unused count to the product or variant
// stock field. Manual-delivery targets keep their sentinel untouched, and a
// non-variant product whose count reaches zero has the field removed instead
// of written as 0.
func (r *CatalogRepository) SetVisibleStock(ctx context.Context, req repositories.VisibleStockUpdate) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return errors.New("catalog set stock: product id is required")
	}
	if req.Remaining < 0 {
		return errors.New("catalog set stock: remaining must be >= 0")
	}

	now := req.Now.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		ref := client.Collection(productsCollection).Doc(productID)
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.WrapError("catalog.setStock", err)
			}
			return err
		}
		doc, err := decodeProduct(snap)
		if err != nil {
			return err
		}

		if req.VariantID != nil {
			variantID := strings.TrimSpace(*req.VariantID)
			idx := -1
			for i, v := range doc.Variants {
				if v.ID == variantID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("catalog.setStock: product %s has no variant %s", productID, variantID)
			}
			if domain.DeliveryType(doc.Variants[idx].DeliveryType) == domain.DeliveryManual {
				return nil
			}
			remaining := req.Remaining
			doc.Variants[idx].Stock = &remaining
			return tx.Update(ref, []firestore.Update{
				{Path: "variants", Value: doc.Variants},
				{Path: "updatedAt", Value: now},
			})
		}

		if domain.DeliveryType(doc.DeliveryType) == domain.DeliveryManual {
			return nil
		}
		stockValue := any(req.Remaining)
		if req.Remaining == 0 {
			stockValue = firestore.Delete
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: stockValue},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return pfirestore.WrapError("catalog.setStock", err)
	}
	return nil
}

// Document structures -------------------------------------------------------

type productDocument struct {
	Name         string            `firestore:"name"`
	Price        int64             `firestore:"price"`
	DeliveryType string            `firestore:"deliveryType"`
	Stock        *int              `firestore:"stock"`
	Variants     []variantDocument `firestore:"variants"`
	CreatedAt    time.Time         `firestore:"createdAt"`
	UpdatedAt    time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	ID           string `firestore:"id"`
	Name         string `firestore:"name"`
	Price        int64  `firestore:"price"`
	Stock        *int   `firestore:"stock"`
	DeliveryType string `firestore:"deliveryType"`
}

func decodeProduct(snap *firestore.DocumentSnapshot) (productDocument, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return productDocument{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

func (d productDocument) toDomain(id string) domain.Product {
	variants := make([]domain.Variant, len(d.Variants))
	for i, v := range d.Variants {
		variants[i] = domain.Variant{
			ID:           v.ID,
			Name:         v.Name,
			Price:        v.Price,
			Stock:        v.Stock,
			DeliveryType: deliveryTypeOrDefault(v.DeliveryType),
		}
	}
	return domain.Product{
		ID:           id,
		Name:         d.Name,
		Price:        d.Price,
		DeliveryType: deliveryTypeOrDefault(d.DeliveryType),
		Stock:        d.Stock,
		Variants:     variants,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func deliveryTypeOrDefault(raw string) domain.DeliveryType {
	if domain.DeliveryType(strings.TrimSpace(raw)) == domain.DeliveryManual {
		return domain.DeliveryManual
	}
	return domain.DeliveryAutomatic
}
