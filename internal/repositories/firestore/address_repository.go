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

	domain "github.com/steadfast-intl/api/internal/domain"
	pfirestore "github.com/steadfast-intl/api/internal/platform/firestore"
	"github.com/steadfast-intl/api/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository persists user delivery addresses in Firestore.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// List returns all addresses for the specified user ordered by most recent update.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		addr, err := decodeAddressDocument(snap)
		if err != nil {
			return nil, err
		}
		addr.UserID = strings.TrimSpace(userID)
		results = append(results, addr)
	}
	return results, nil
}

// Get fetches a single address document.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	addr, err := decodeAddressDocument(snap)
	if err != nil {
		return domain.Address{}, err
	}
	addr.UserID = strings.TrimSpace(userID)
	return addr, nil
}

// Insert creates an address, enforcing the per-user limit inside a
// transaction. The first address for a user becomes the default.
func (r *AddressRepository) Insert(ctx context.Context, addr domain.Address, limit int) (domain.Address, error) {
	coll, err := r.collection(ctx, addr.UserID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addr.ID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if limit > 0 && len(snaps) >= limit {
			return status.Errorf(codes.FailedPrecondition, "address limit of %d reached", limit)
		}

		doc := encodeAddressDocument(addr)
		if len(snaps) == 0 {
			doc.Default = true
		}

		if err := tx.Create(coll.Doc(id), doc); err != nil {
			return err
		}
		saved = doc.toDomain(id)
		saved.UserID = strings.TrimSpace(addr.UserID)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.insert", err)
	}
	return saved, nil
}

// Update replaces the address document, preserving its default flag and creation time.
func (r *AddressRepository) Update(ctx context.Context, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, addr.UserID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addr.ID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := coll.Doc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var existing addressDocument
		if err := snap.DataTo(&existing); err != nil {
			return fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
		}

		doc := encodeAddressDocument(addr)
		doc.Default = existing.Default
		if !existing.CreatedAt.IsZero() {
			doc.CreatedAt = existing.CreatedAt
		}

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(id)
		saved.UserID = strings.TrimSpace(addr.UserID)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.update", err)
	}
	return saved, nil
}

// Delete removes the specified address document.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return errors.New("address repository: address id is required")
	}
	if _, err := coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// SetDefault marks the address as the user's default and clears the flag on siblings.
func (r *AddressRepository) SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := coll.Doc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
		}

		siblings, err := tx.Documents(coll.Where("default", "==", true)).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "default", Value: true},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		for _, sibling := range siblings {
			if sibling.Ref.ID == id {
				continue
			}
			if err := tx.Update(sibling.Ref, []firestore.Update{{Path: "default", Value: false}}); err != nil {
				return err
			}
		}

		doc.Default = true
		doc.UpdatedAt = now
		saved = doc.toDomain(id)
		saved.UserID = strings.TrimSpace(userID)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.setDefault", err)
	}
	return saved, nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf(addressCollectionPattern, uid)
	return client.Collection(path), nil
}

func decodeAddressDocument(snapshot *firestore.DocumentSnapshot) (domain.Address, error) {
	var doc addressDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snapshot.Ref.ID, err)
	}
	return doc.toDomain(snapshot.Ref.ID), nil
}

type addressDocument struct {
	PhoneNumber      string    `firestore:"phoneNumber"`
	AlternativePhone string    `firestore:"alternativePhone,omitempty"`
	Email            string    `firestore:"email,omitempty"`
	City             string    `firestore:"city"`
	DeliveryAddress  string    `firestore:"deliveryAddress"`
	Region           string    `firestore:"region"`
	ZipCode          string    `firestore:"zipCode,omitempty"`
	FormattedAddress string    `firestore:"formattedAddress"`
	Default          bool      `firestore:"default"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func encodeAddressDocument(addr domain.Address) addressDocument {
	now := time.Now().UTC()
	createdAt := addr.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	return addressDocument{
		PhoneNumber:      strings.TrimSpace(addr.PhoneNumber),
		AlternativePhone: strings.TrimSpace(addr.AlternativePhone),
		Email:            strings.TrimSpace(addr.Email),
		City:             strings.TrimSpace(addr.City),
		DeliveryAddress:  strings.TrimSpace(addr.DeliveryAddress),
		Region:           strings.TrimSpace(addr.Region),
		ZipCode:          strings.TrimSpace(addr.ZipCode),
		FormattedAddress: strings.TrimSpace(addr.FormattedAddress),
		Default:          addr.Default,
		CreatedAt:        createdAt,
		UpdatedAt:        now,
	}
}

func (d addressDocument) toDomain(id string) domain.Address {
	return domain.Address{
		ID:               id,
		PhoneNumber:      d.PhoneNumber,
		AlternativePhone: d.AlternativePhone,
		Email:            d.Email,
		City:             d.City,
		DeliveryAddress:  d.DeliveryAddress,
		Region:           d.Region,
		ZipCode:          d.ZipCode,
		FormattedAddress: d.FormattedAddress,
		Default:          d.Default,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
