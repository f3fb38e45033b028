package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/steadfast-intl/api/internal/platform/firestore"
	"github.com/steadfast-intl/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface and shares a single provider between them.
type Registry struct {
	provider *pfirestore.Provider

	products  *ProductRepository
	carts     *CartRepository
	coupons   *CouponRepository
	orders    *OrderRepository
	addresses *AddressRepository
	posts     *PostRepository
	admins    *AdminRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// RegistryOption customises the registry during construction.
type RegistryOption func(*Registry)

// WithHealthRepository overrides the health repository exposed by the registry.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		if health != nil {
			r.health = health
		}
	}
}

// NewRegistry constructs every Firestore repository on the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	posts, err := NewPostRepository(provider)
	if err != nil {
		return nil, err
	}
	admins, err := NewAdminRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	registry := &Registry{
		provider:  provider,
		products:  products,
		carts:     carts,
		coupons:   coupons,
		orders:    orders,
		addresses: addresses,
		posts:     posts,
		admins:    admins,
		counters:  counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn inside a single Firestore transaction shared by every
// repository operation issued through the context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunInTx(ctx, fn)
}

func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Coupons() repositories.CouponRepository     { return r.coupons }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Addresses() repositories.AddressRepository  { return r.addresses }
func (r *Registry) Posts() repositories.PostRepository         { return r.posts }
func (r *Registry) Admins() repositories.AdminRepository       { return r.admins }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

var _ repositories.Registry = (*Registry)(nil)
