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

const ordersCollection = "orders"

// OrderRepository persists orders in the orders collection. Every mutating
// operation re-reads the document inside a transaction so concurrent callers
// resolve to exactly one winner.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs an order repository over the shared provider.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) docRef(ctx context.Context, orderID string) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID), nil
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	ref, err := r.docRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.find", err)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("orders.find", err)
	}
	doc, err := decodeOrder(snap)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(orderID), nil
}

// TransitionStatus moves the payment status from one of the allowed source
// states to the target and appends the history entry in the same write.
func (r *OrderRepository) TransitionStatus(ctx context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order transition: id is required")
	}
	if req.To == "" {
		return domain.Order{}, errors.New("order transition: target status is required")
	}

	now := req.Now.UTC()
	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.docRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		doc, err := decodeOrder(snap)
		if err != nil {
			return err
		}

		current := doc.currentStatus()
		if !statusAllowed(current, req.From) {
			return repositories.NewOrderError(
				repositories.OrderErrorInvalidTransition,
				fmt.Sprintf("order %s is %s, cannot transition to %s", orderID, current, req.To),
				nil,
			)
		}

		doc.Payment.Status = string(req.To)
		if txnID := strings.TrimSpace(req.TransactionID); txnID != "" {
			doc.Payment.TransactionID = txnID
		}
		doc.StatusHistory = append(doc.StatusHistory, statusChangeDocument{
			Status:    string(req.To),
			ChangedBy: strings.TrimSpace(req.ChangedBy),
			ChangedAt: now,
		})
		doc.UpdatedAt = now

		if err := tx.Update(ref, []firestore.Update{
			{Path: "payment", Value: doc.Payment},
			{Path: "statusHistory", Value: doc.StatusHistory},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		result = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.transition", err)
	}
	return result, nil
}

// ClaimFulfillment takes the fulfillment claim. The claim succeeds only from
// the not_started or failed states and only while productAssigned is false.
func (r *OrderRepository) ClaimFulfillment(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order claim: id is required")
	}

	now = now.UTC()
	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.docRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		doc, err := decodeOrder(snap)
		if err != nil {
			return err
		}

		if doc.ProductAssigned {
			return repositories.NewOrderError(repositories.OrderErrorFulfillmentClaimed, fmt.Sprintf("order %s already has products assigned", orderID), nil)
		}
		state := doc.fulfillmentState()
		if state != domain.FulfillmentNotStarted && state != domain.FulfillmentFailed {
			return repositories.NewOrderError(repositories.OrderErrorFulfillmentClaimed, fmt.Sprintf("order %s fulfillment is %s", orderID, state), nil)
		}

		doc.Fulfillment = string(domain.FulfillmentRunning)
		doc.UpdatedAt = now
		if err := tx.Update(ref, []firestore.Update{
			{Path: "fulfillment", Value: doc.Fulfillment},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		result = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.claimFulfillment", err)
	}
	return result, nil
}

// CompleteFulfillment records the outcome of a fulfillment pass. The
// productAssigned flag is monotonic: it is set when anything succeeded and
// never cleared afterwards.
func (r *OrderRepository) CompleteFulfillment(ctx context.Context, req repositories.FulfillmentCompletionRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order complete: id is required")
	}

	now := req.Now.UTC()
	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.docRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		doc, err := decodeOrder(snap)
		if err != nil {
			return err
		}

		doc.Fulfillment = string(req.State)
		doc.UpdatedAt = now
		updates := []firestore.Update{
			{Path: "fulfillment", Value: doc.Fulfillment},
			{Path: "updatedAt", Value: now},
		}

		if req.AnySucceeded && !doc.ProductAssigned {
			doc.ProductAssigned = true
			updates = append(updates, firestore.Update{Path: "productAssigned", Value: true})
		}
		if len(req.Notes) > 0 {
			for _, note := range req.Notes {
				doc.Notes = append(doc.Notes, noteDocument{
					Text:    note,
					AddedBy: strings.TrimSpace(req.ChangedBy),
					AddedAt: now,
				})
			}
			updates = append(updates, firestore.Update{Path: "notes", Value: doc.Notes})
		}

		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		result = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.completeFulfillment", err)
	}
	return result, nil
}

// MarkLineDelivered flips delivered on a single line. Already-delivered lines
// are a no-op so staff retries stay safe.
func (r *OrderRepository) MarkLineDelivered(ctx context.Context, req repositories.LineDeliveryRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order deliver line: id is required")
	}

	now := req.Now.UTC()
	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.docRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		doc, err := decodeOrder(snap)
		if err != nil {
			return err
		}

		if req.LineIndex < 0 || req.LineIndex >= len(doc.Products) {
			return repositories.NewOrderError(repositories.OrderErrorLineNotFound, fmt.Sprintf("order %s has no line %d", orderID, req.LineIndex), nil)
		}
		if doc.Products[req.LineIndex].Delivered {
			result = doc.toDomain(orderID)
			return nil
		}

		doc.Products[req.LineIndex].Delivered = true
		doc.Notes = append(doc.Notes, noteDocument{
			Text:    fmt.Sprintf("line %d delivered", req.LineIndex),
			AddedBy: strings.TrimSpace(req.ActorID),
			AddedAt: now,
		})
		doc.UpdatedAt = now

		if err := tx.Update(ref, []firestore.Update{
			{Path: "products", Value: doc.Products},
			{Path: "notes", Value: doc.Notes},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		result = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.markLineDelivered", err)
	}
	return result, nil
}

// ListPendingExpired returns pending orders whose expiration passed before the
// given instant, oldest first.
func (r *OrderRepository) ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapOrderError("orders.listPendingExpired", err)
	}

	query := client.Collection(ordersCollection).
		Where("payment.status", "==", string(domain.OrderStatusPending)).
		Where("expiresAt", "<=", before.UTC()).
		OrderBy("expiresAt", firestore.Asc).
		Limit(limit)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapOrderError("orders.listPendingExpired", err)
		}
		doc, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}
	return orders, nil
}

// Document structures -------------------------------------------------------

type orderDocument struct {
	Number          string                 `firestore:"number"`
	User            any                    `firestore:"user"`
	Products        []orderLineDocument    `firestore:"products"`
	TotalAmount     int64                  `firestore:"totalAmount"`
	Payment         paymentDocument        `firestore:"payment"`
	ProductAssigned bool                   `firestore:"productAssigned"`
	Fulfillment     string                 `firestore:"fulfillment"`
	StatusHistory   []statusChangeDocument `firestore:"statusHistory"`
	Notes           []noteDocument         `firestore:"notes"`
	ExpiresAt       *time.Time             `firestore:"expiresAt"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

type orderLineDocument struct {
	Product   any    `firestore:"product"`
	Variant   any    `firestore:"variant"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	Delivered bool   `firestore:"delivered"`
}

type paymentDocument struct {
	Method        string `firestore:"method"`
	Status        string `firestore:"status"`
	TransactionID string `firestore:"transactionId,omitempty"`
}

type statusChangeDocument struct {
	Status    string    `firestore:"status"`
	ChangedBy string    `firestore:"changedBy"`
	ChangedAt time.Time `firestore:"changedAt"`
}

type noteDocument struct {
	Text    string    `firestore:"text"`
	AddedBy string    `firestore:"addedBy"`
	AddedAt time.Time `firestore:"addedAt"`
}

func decodeOrder(snap *firestore.DocumentSnapshot) (orderDocument, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

func (d orderDocument) currentStatus() domain.OrderStatus {
	if s := strings.TrimSpace(d.Payment.Status); s != "" {
		return domain.OrderStatus(s)
	}
	return domain.OrderStatusPending
}

func (d orderDocument) fulfillmentState() domain.FulfillmentState {
	if s := strings.TrimSpace(d.Fulfillment); s != "" {
		return domain.FulfillmentState(s)
	}
	return domain.FulfillmentNotStarted
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, len(d.Products))
	for i, line := range d.Products {
		lines[i] = domain.OrderLine{
			ProductRef: normalizeRef(line.Product),
			VariantRef: normalizeOptionalRef(line.Variant),
			Name:       line.Name,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
			Delivered:  line.Delivered,
		}
	}
	history := make([]domain.StatusChange, len(d.StatusHistory))
	for i, entry := range d.StatusHistory {
		history[i] = domain.StatusChange{
			Status:    domain.OrderStatus(entry.Status),
			ChangedBy: entry.ChangedBy,
			ChangedAt: entry.ChangedAt,
		}
	}
	notes := make([]domain.OrderNote, len(d.Notes))
	for i, note := range d.Notes {
		notes[i] = domain.OrderNote{
			Text:    note.Text,
			AddedBy: note.AddedBy,
			AddedAt: note.AddedAt,
		}
	}
	return domain.Order{
		ID:          id,
		Number:      d.Number,
		UserRef:     normalizeRef(d.User),
		Lines:       lines,
		TotalAmount: d.TotalAmount,
		Payment: domain.PaymentInfo{
			Method:        d.Payment.Method,
			Status:        d.currentStatus(),
			TransactionID: d.Payment.TransactionID,
		},
		ProductAssigned: d.ProductAssigned,
		Fulfillment:     d.fulfillmentState(),
		StatusHistory:   history,
		Notes:           notes,
		ExpiresAt:       d.ExpiresAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// normalizeRef resolves the historical reference encodings found in older
// documents: plain ids, full paths, Firestore references and embedded maps
// carrying an _id field.
func normalizeRef(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return lastPathSegment(v)
	case *firestore.DocumentRef:
		if v == nil {
			return ""
		}
		return v.ID
	case map[string]any:
		for _, key := range []string{"_id", "id", "ref"} {
			if nested, ok := v[key]; ok {
				if id := normalizeRef(nested); id != "" {
					return id
				}
			}
		}
		return ""
	default:
		return ""
	}
}

func normalizeOptionalRef(value any) *string {
	id := normalizeRef(value)
	if id == "" {
		return nil
	}
	return &id
}

func lastPathSegment(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func statusAllowed(current domain.OrderStatus, from []domain.OrderStatus) bool {
	if len(from) == 0 {
		return true
	}
	for _, s := range from {
		if s == current {
			return true
		}
	}
	return false
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
