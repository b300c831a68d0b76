package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/keyforge-store/api/internal/domain"
	pfirestore "github.com/keyforge-store/api/internal/platform/firestore"
)

const usersCollection = "users"

// UserRepository stores buyer profiles and their owned-products set.
type UserRepository struct {
	provider *pfirestore.Provider
}

// NewUserRepository constructs a user repository over the shared provider.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{provider: provider}, nil
}

// FindByID loads one buyer profile.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.provider == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, errors.New("user find: id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.UserProfile{}, pfirestore.WrapError("users.find", err)
	}
	snap, err := client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		return domain.UserProfile{}, pfirestore.WrapError("users.find", err)
	}

	var doc userDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.UserProfile{}, pfirestore.WrapError("users.find", err)
	}
	return doc.toDomain(userID), nil
}

// AddOwnedProducts unions the product ids into the buyer's owned-products set.
// Re-adding an owned product is a no-op.
func (r *UserRepository) AddOwnedProducts(ctx context.Context, userID string, productIDs []string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user add owned: id is required")
	}

	ids := make([]any, 0, len(productIDs))
	for _, id := range productIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("users.addOwned", err)
	}
	_, err = client.Collection(usersCollection).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "ownedProducts", Value: firestore.ArrayUnion(ids...)},
		{Path: "updatedAt", Value: now.UTC()},
	})
	return pfirestore.WrapError("users.addOwned", err)
}

type userDocument struct {
	Email         string    `firestore:"email"`
	Roles         []string  `firestore:"roles"`
	OwnedProducts []string  `firestore:"ownedProducts"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d userDocument) toDomain(id string) domain.UserProfile {
	return domain.UserProfile{
		ID:            id,
		Email:         d.Email,
		Roles:         d.Roles,
		OwnedProducts: d.OwnedProducts,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
