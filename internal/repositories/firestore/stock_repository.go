package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/keyforge-store/api/internal/domain"
	pfirestore "github.com/keyforge-store/api/internal/platform/firestore"
	"github.com/keyforge-store/api/internal/repositories"
)

const (
	stockItemsCollection = "stockItems"

	// claimHeadroom is how many extra candidates each query fetches so a
	// claim can survive losing a few races without re-querying.
	claimHeadroom = 5
	// maxClaimAttempts bounds the re-query loop under heavy contention.
	maxClaimAttempts = 3
)

var errClaimRaced = errors.New("stock claim lost race on candidates")

// StockRepository manages the uniquely-coded stock item pool backed by the
// stockItems collection.
type StockRepository struct {
	provider *pfirestore.Provider
}

// NewStockRepository constructs a stock repository over the shared provider.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{provider: provider}, nil
}

// ClaimItems binds up to the requested quantity of unused items to the buyer.
// Each item is flipped isUsed false->true inside a transaction that re-reads
// it first, so two concurrent claimants can never take the same code.
func (r *StockRepository) ClaimItems(ctx context.Context, req repositories.StockClaimRequest) (repositories.StockClaimResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockClaimResult{}, errors.New("stock repository not initialised")
	}
	productRef := strings.TrimSpace(req.ProductRef)
	if productRef == "" {
		return repositories.StockClaimResult{}, errors.New("stock claim: product ref is required")
	}
	if req.Quantity <= 0 {
		return repositories.StockClaimResult{}, errors.New("stock claim: quantity must be > 0")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.StockClaimResult{}, wrapStockError("stock.claim", err)
	}

	now := req.Now.UTC()
	var claimed []domain.StockItem

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		candidates, err := r.queryCandidates(ctx, client, productRef, req.VariantRef, req.Quantity+claimHeadroom)
		if err != nil {
			return repositories.StockClaimResult{}, wrapStockError("stock.claim", err)
		}
		if len(candidates) < req.Quantity {
			available, countErr := r.CountUnused(ctx, productRef, req.VariantRef)
			if countErr != nil {
				available = len(candidates)
			}
			stockErr := repositories.NewStockError(
				repositories.StockErrorInsufficient,
				fmt.Sprintf("product %s has %d unused items, %d requested", productRef, available, req.Quantity),
				nil,
			)
			stockErr.Requested = req.Quantity
			stockErr.Available = available
			return repositories.StockClaimResult{}, stockErr
		}

		claimed, err = r.claimCandidates(ctx, candidates, req, now)
		if err == nil {
			break
		}
		if !errors.Is(err, errClaimRaced) {
			return repositories.StockClaimResult{}, wrapStockError("stock.claim", err)
		}
		claimed = nil
	}

	if claimed == nil {
		available, countErr := r.CountUnused(ctx, productRef, req.VariantRef)
		if countErr == nil && available < req.Quantity {
			stockErr := repositories.NewStockError(
				repositories.StockErrorInsufficient,
				fmt.Sprintf("product %s has %d unused items, %d requested", productRef, available, req.Quantity),
				nil,
			)
			stockErr.Requested = req.Quantity
			stockErr.Available = available
			return repositories.StockClaimResult{}, stockErr
		}
		return repositories.StockClaimResult{}, repositories.NewStockError(
			repositories.StockErrorContention,
			fmt.Sprintf("product %s claim lost %d consecutive races", productRef, maxClaimAttempts),
			nil,
		)
	}

	remaining, err := r.CountUnused(ctx, productRef, req.VariantRef)
	if err != nil {
		remaining = 0
	}
	return repositories.StockClaimResult{Items: claimed, Remaining: remaining}, nil
}

func (r *StockRepository) queryCandidates(ctx context.Context, client *firestore.Client, productRef string, variantRef *string, limit int) ([]*firestore.DocumentRef, error) {
	query := r.unusedQuery(client, productRef, variantRef).Limit(limit).Select()
	iter := query.Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, snap.Ref)
	}
	return refs, nil
}

// claimCandidates re-reads the candidates inside one transaction and claims
// the first req.Quantity that are still unused. Losing too many candidates to
// concurrent claimants yields errClaimRaced so the caller can re-query.
func (r *StockRepository) claimCandidates(ctx context.Context, candidates []*firestore.DocumentRef, req repositories.StockClaimRequest, now time.Time) ([]domain.StockItem, error) {
	var claimed []domain.StockItem

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = claimed[:0]

		type pick struct {
			ref *firestore.DocumentRef
			doc stockItemDocument
		}
		var picks []pick

		for _, ref := range candidates {
			if len(picks) == req.Quantity {
				break
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc stockItemDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock item %s: %w", ref.ID, err)
			}
			if doc.IsUsed {
				continue
			}
			picks = append(picks, pick{ref: ref, doc: doc})
		}

		if len(picks) < req.Quantity {
			return errClaimRaced
		}

		for _, p := range picks {
			p.doc.IsUsed = true
			p.doc.AssignedTo = strings.TrimSpace(req.UserRef)
			p.doc.AssignedAt = &now
			p.doc.OrderRef = strings.TrimSpace(req.OrderRef)
			if err := tx.Update(p.ref, []firestore.Update{
				{Path: "isUsed", Value: true},
				{Path: "assignedTo", Value: p.doc.AssignedTo},
				{Path: "assignedAt", Value: now},
				{Path: "orderRef", Value: p.doc.OrderRef},
			}); err != nil {
				return err
			}
			claimed = append(claimed, p.doc.toDomain(p.ref.ID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CountUnused returns the number of unused items matching the product and
// variant filter.
func (r *StockRepository) CountUnused(ctx context.Context, productRef string, variantRef *string) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("stock repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, wrapStockError("stock.countUnused", err)
	}

	iter := r.unusedQuery(client, strings.TrimSpace(productRef), variantRef).Select().Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, wrapStockError("stock.countUnused", err)
		}
		count++
	}
	return count, nil
}

// Insert adds new coded items to the pool. Codes are globally unique.
func (r *StockRepository) Insert(ctx context.Context, items []domain.StockItem) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	if len(items) == 0 {
		return nil
	}
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return errors.New("stock insert: item id is required")
		}
		if strings.TrimSpace(item.Code) == "" {
			return errors.New("stock insert: item code is required")
		}
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapStockError("stock.insert", err)
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Firestore transactions require all reads before writes, so the
		// uniqueness checks run first.
		for _, item := range items {
			query := client.Collection(stockItemsCollection).
				Where("code", "==", item.Code).
				Limit(1).
				Select()
			iter := tx.Documents(query)
			snap, err := iter.Next()
			iter.Stop()
			if err == nil && snap != nil {
				return repositories.NewStockError(
					repositories.StockErrorDuplicateCode,
					fmt.Sprintf("stock code for item %s already exists", item.ID),
					nil,
				)
			}
			if err != nil && !errors.Is(err, iterator.Done) {
				return err
			}
		}

		for _, item := range items {
			ref := client.Collection(stockItemsCollection).Doc(item.ID)
			if err := tx.Create(ref, newStockItemDocument(item)); err != nil {
				if status.Code(err) == codes.AlreadyExists {
					return repositories.NewStockError(
						repositories.StockErrorDuplicateCode,
						fmt.Sprintf("stock item %s already exists", item.ID),
						err,
					)
				}
				return err
			}
		}
		return nil
	})
	return wrapStockError("stock.insert", err)
}

func (r *StockRepository) unusedQuery(client *firestore.Client, productRef string, variantRef *string) firestore.Query {
	query := client.Collection(stockItemsCollection).
		Where("productRef", "==", productRef).
		Where("isUsed", "==", false)
	if variantRef != nil {
		query = query.Where("variantRef", "==", strings.TrimSpace(*variantRef))
	} else {
		query = query.Where("variantRef", "==", "")
	}
	return query
}

// Document structures -------------------------------------------------------

type stockItemDocument struct {
	ProductRef string         `firestore:"productRef"`
	VariantRef string         `firestore:"variantRef"`
	Code       string         `firestore:"code"`
	IsUsed     bool           `firestore:"isUsed"`
	AssignedTo string         `firestore:"assignedTo,omitempty"`
	AssignedAt *time.Time     `firestore:"assignedAt,omitempty"`
	OrderRef   string         `firestore:"orderRef,omitempty"`
	Metadata   map[string]any `firestore:"metadata,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
}

func newStockItemDocument(item domain.StockItem) stockItemDocument {
	doc := stockItemDocument{
		ProductRef: strings.TrimSpace(item.ProductRef),
		Code:       strings.TrimSpace(item.Code),
		IsUsed:     item.IsUsed,
		Metadata:   item.Metadata,
		CreatedAt:  item.CreatedAt.UTC(),
	}
	if item.VariantRef != nil {
		doc.VariantRef = strings.TrimSpace(*item.VariantRef)
	}
	if item.AssignedTo != nil {
		doc.AssignedTo = strings.TrimSpace(*item.AssignedTo)
	}
	doc.AssignedAt = item.AssignedAt
	return doc
}

func (d stockItemDocument) toDomain(id string) domain.StockItem {
	item := domain.StockItem{
		ID:         id,
		ProductRef: d.ProductRef,
		Code:       d.Code,
		IsUsed:     d.IsUsed,
		Metadata:   d.Metadata,
		AssignedAt: d.AssignedAt,
		CreatedAt:  d.CreatedAt,
	}
	if d.VariantRef != "" {
		variant := d.VariantRef
		item.VariantRef = &variant
	}
	if d.AssignedTo != "" {
		assigned := d.AssignedTo
		item.AssignedTo = &assigned
	}
	return item
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
