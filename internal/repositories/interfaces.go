package repositories

import (
	"context"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Addresses() AddressRepository
	Posts() PostRepository
	Admins() AdminRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists catalog entries and owns the stock counters the
// fulfilment flow decrements.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	FindByName(ctx context.Context, name string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)

	// DecrementStock atomically applies every adjustment or none of them.
	// Implementations participating in a RunInTx scope must join the ambient
	// transaction so the decrement commits together with the caller's writes.
	DecrementStock(ctx context.Context, adjustments []StockAdjustment) error
	// AdjustStock adds delta to a single counter (admin restock; delta may be negative).
	AdjustStock(ctx context.Context, adjustment StockAdjustment) (domain.Product, error)
}

// StockAdjustment identifies one stock counter and the quantity to subtract.
// VariationID is empty for simple products. ProductName is a compatibility
// fallback used to locate products referenced by name only.
type StockAdjustment struct {
	ProductID   string
	ProductName string
	VariationID string
	Quantity    int
}

// CartRepository owns checkout snapshots with optimistic locking guarantees.
type CartRepository interface {
	Insert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Cart], error)

	// Finalize flips the cart to Paid/Completed and records the gateway
	// reference. The write carries the precondition that the cart document has
	// not changed since expectedUpdate; a concurrent finalize fails with a
	// conflict so at most one delivery of the same event can commit.
	Finalize(ctx context.Context, cartID string, reference string, expectedUpdate time.Time) (domain.Cart, error)
	// SetPaymentStatus records a non-fulfilling payment state change (Failed, Refunded)
	// or reverts a cancelled order's cart back to Pending.
	SetPaymentStatus(ctx context.Context, cartID string, payment domain.CartPaymentStatus, status domain.CartStatus) (domain.Cart, error)
}

// CouponRepository maintains the discount code ledger.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, code string) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)

	// Settle adds amount to the coupon balance and increments the usage count.
	// Joins an ambient RunInTx scope when present.
	Settle(ctx context.Context, code string, amount int64, now time.Time) (domain.Coupon, error)
}

// OrderRepository persists order headers and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCartID(ctx context.Context, cartID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// AddressRepository stores delivery addresses per user.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	Insert(ctx context.Context, addr domain.Address, limit int) (domain.Address, error)
	Update(ctx context.Context, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// PostRepository stores blog articles.
type PostRepository interface {
	Insert(ctx context.Context, post domain.BlogPost) error
	Update(ctx context.Context, post domain.BlogPost) error
	Delete(ctx context.Context, postID string) error
	FindByID(ctx context.Context, postID string) (domain.BlogPost, error)
	List(ctx context.Context, filter PostListFilter) (domain.CursorPage[domain.BlogPost], error)
}

// AdminRepository stores back-office accounts.
type AdminRepository interface {
	Insert(ctx context.Context, admin domain.AdminUser) error
	Update(ctx context.Context, admin domain.AdminUser) error
	FindByID(ctx context.Context, adminID string) (domain.AdminUser, error)
	FindByEmail(ctx context.Context, email string) (domain.AdminUser, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Type       *domain.ProductType
	Tag        *string
	PriceRange domain.RangeQuery[int64]
	Search     string
	SortOrder  domain.SortOrder
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type PostListFilter struct {
	Category   *string
	Tag        *string
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
