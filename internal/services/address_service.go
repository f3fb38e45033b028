package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/repositories"
)

// maxAddressesPerUser caps the saved address book size per customer.
const maxAddressesPerUser = 2

var phonePattern = regexp.MustCompile(`^\d{10,15}$`)

var (
	// ErrAddressInvalidInput indicates the caller supplied invalid address fields.
	ErrAddressInvalidInput = errors.New("addresses: invalid input")
	// ErrAddressNotFound indicates the address does not exist for the user.
	ErrAddressNotFound = errors.New("addresses: not found")
	// ErrAddressLimitReached indicates the user already holds the maximum number of addresses.
	ErrAddressLimitReached = errors.New("addresses: limit reached")
	// ErrAddressUnavailable indicates address dependencies are currently unavailable.
	ErrAddressUnavailable = errors.New("addresses: unavailable")
)

// AddressServiceDeps wires the dependencies required by the address service.
type AddressServiceDeps struct {
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type addressService struct {
	addresses repositories.AddressRepository
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewAddressService constructs an AddressService validating required dependencies.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &addressService{
		addresses: deps.Addresses,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListAddresses returns the user's saved address book.
func (s *addressService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	if s == nil || s.addresses == nil {
		return nil, ErrAddressUnavailable
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrAddressInvalidInput)
	}
	addrs, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, s.translateError(err)
	}
	return addrs, nil
}

// GetAddress fetches one saved address scoped to its owner.
func (s *addressService) GetAddress(ctx context.Context, userID string, addressID string) (Address, error) {
	if s == nil || s.addresses == nil {
		return Address{}, ErrAddressUnavailable
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(addressID) == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}
	addr, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return Address{}, s.translateError(err)
	}
	return addr, nil
}

// CreateAddress saves a new delivery address. The first address a user saves
// becomes their default.
func (s *addressService) CreateAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error) {
	if s == nil || s.addresses == nil {
		return Address{}, ErrAddressUnavailable
	}
	addr, err := buildAddress(cmd)
	if err != nil {
		return Address{}, err
	}
	now := s.now()
	addr.ID = "addr_" + ulid.Make().String()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	existing, err := s.addresses.List(ctx, addr.UserID)
	if err != nil {
		return Address{}, s.translateError(err)
	}
	if len(existing) >= maxAddressesPerUser {
		return Address{}, fmt.Errorf("%w: at most %d addresses per user", ErrAddressLimitReached, maxAddressesPerUser)
	}
	addr.Default = len(existing) == 0

	saved, err := s.addresses.Insert(ctx, addr, maxAddressesPerUser)
	if err != nil {
		return Address{}, s.translateError(err)
	}
	s.logger(ctx, "addresses.created", map[string]any{
		"addressId": saved.ID,
		"userId":    saved.UserID,
	})
	return saved, nil
}

// UpdateAddress replaces the writable fields of a saved address.
func (s *addressService) UpdateAddress(ctx context.Context, addressID string, cmd UpsertAddressCommand) (Address, error) {
	if s == nil || s.addresses == nil {
		return Address{}, ErrAddressUnavailable
	}
	if strings.TrimSpace(addressID) == "" {
		return Address{}, fmt.Errorf("%w: address id is required", ErrAddressInvalidInput)
	}
	next, err := buildAddress(cmd)
	if err != nil {
		return Address{}, err
	}
	current, err := s.addresses.Get(ctx, cmd.UserID, addressID)
	if err != nil {
		return Address{}, s.translateError(err)
	}
	next.ID = current.ID
	next.Default = current.Default
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()

	saved, err := s.addresses.Update(ctx, next)
	if err != nil {
		return Address{}, s.translateError(err)
	}
	return saved, nil
}

// DeleteAddress removes a saved address scoped to its owner.
func (s *addressService) DeleteAddress(ctx context.Context, userID string, addressID string) error {
	if s == nil || s.addresses == nil {
		return ErrAddressUnavailable
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(addressID) == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}
	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return s.translateError(err)
	}
	return nil
}

// SetDefaultAddress marks one address as the user's default, clearing any
// previous default.
func (s *addressService) SetDefaultAddress(ctx context.Context, userID string, addressID string) (Address, error) {
	if s == nil || s.addresses == nil {
		return Address{}, ErrAddressUnavailable
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(addressID) == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}
	addr, err := s.addresses.SetDefault(ctx, userID, addressID)
	if err != nil {
		return Address{}, s.translateError(err)
	}
	return addr, nil
}

func buildAddress(cmd UpsertAddressCommand) (domain.Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Address{}, fmt.Errorf("%w: user id is required", ErrAddressInvalidInput)
	}
	phone := strings.TrimSpace(cmd.PhoneNumber)
	if !phonePattern.MatchString(phone) {
		return domain.Address{}, fmt.Errorf("%w: phone number must be 10 to 15 digits", ErrAddressInvalidInput)
	}
	altPhone := strings.TrimSpace(cmd.AlternativePhone)
	if altPhone != "" && !phonePattern.MatchString(altPhone) {
		return domain.Address{}, fmt.Errorf("%w: alternative phone must be 10 to 15 digits", ErrAddressInvalidInput)
	}
	city := strings.TrimSpace(cmd.City)
	delivery := strings.TrimSpace(cmd.DeliveryAddress)
	region := strings.TrimSpace(cmd.Region)
	if city == "" || delivery == "" || region == "" {
		return domain.Address{}, fmt.Errorf("%w: delivery address, city and region are required", ErrAddressInvalidInput)
	}
	return domain.Address{
		UserID:           userID,
		PhoneNumber:      phone,
		AlternativePhone: altPhone,
		Email:            strings.TrimSpace(cmd.Email),
		City:             city,
		DeliveryAddress:  delivery,
		Region:           region,
		ZipCode:          strings.TrimSpace(cmd.ZipCode),
		FormattedAddress: formatAddress(delivery, city, region, strings.TrimSpace(cmd.ZipCode)),
	}, nil
}

func formatAddress(delivery, city, region, zip string) string {
	parts := []string{delivery, city, region}
	if zip != "" {
		parts = append(parts, zip)
	}
	return strings.Join(parts, ", ")
}

func (s *addressService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrAddressNotFound
		case repoErr.IsConflict():
			return ErrAddressLimitReached
		default:
			return ErrAddressUnavailable
		}
	}
	return ErrAddressUnavailable
}
