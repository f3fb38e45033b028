package services

import (
	"context"
	"io"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Product            = domain.Product
	ProductType        = domain.ProductType
	VariationOption    = domain.VariationOption
	VariationAttribute = domain.VariationAttribute
	Tag                = domain.Tag
	Media              = domain.Media
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CartStatus         = domain.CartStatus
	CartPaymentStatus  = domain.CartPaymentStatus
	AppliedCoupon      = domain.AppliedCoupon
	Coupon             = domain.Coupon
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	RefundStatus       = domain.RefundStatus
	Address            = domain.Address
	BlogPost           = domain.BlogPost
	AdminUser          = domain.AdminUser
	AdminRole          = domain.AdminRole
)

// CursorPage re-exports the generic page container used by list operations.
type CursorPage[T any] = domain.CursorPage[T]

// Registry re-exports the repository registry for dependency wiring.
type Registry = repositories.Registry

// CatalogService manages catalog entries and their derived price bounds.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, productID string, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	GetProduct(ctx context.Context, idOrSlug string) (Product, error)
	ListProducts(ctx context.Context, query ProductListQuery) (CursorPage[Product], error)
	// Restock adjusts one stock counter by a signed delta. Deltas that would
	// take the counter below zero are rejected.
	Restock(ctx context.Context, cmd RestockCommand) (Product, error)
	// UploadProductImage stores a gallery image through the media store and
	// appends it to the product.
	UploadProductImage(ctx context.Context, productID string, upload ImageUpload) (Product, error)
}

// MediaUploader stores a media object and returns its public URL.
type MediaUploader interface {
	Upload(ctx context.Context, objectPath, contentType string, data io.Reader) (string, error)
}

// ImageUpload is an inbound image payload destined for the media store.
type ImageUpload struct {
	Kind        string
	FileName    string
	ContentType string
	Data        io.Reader
}

// UpsertProductCommand carries the writable fields of a catalog entry.
// MinPrice and MaxPrice are never accepted from callers; they are recomputed
// from the variation options on every write.
type UpsertProductCommand struct {
	Slug        string
	Name        string
	Description string
	Type        ProductType
	Image       Media
	Gallery     []Media
	Price       int64
	SalePrice   *int64
	Quantity    int
	Tags        []Tag
	Variations  []VariationOption
}

// ProductListQuery filters and pages the catalog listing.
type ProductListQuery struct {
	Type       *ProductType
	Tag        *string
	MinPrice   *int64
	MaxPrice   *int64
	Search     string
	SortOrder  SortOrder
	Pagination Pagination
}

// RestockCommand identifies one stock counter and the signed quantity to add.
type RestockCommand struct {
	ProductID   string
	VariationID string
	Delta       int
}

// CartService owns the checkout flow: snapshotting catalog state into a cart
// and opening a hosted payment session for it.
type CartService interface {
	// CreateCart resolves the requested items against the catalog, validates
	// the optional coupon, persists the cart, and initializes a gateway
	// session whose metadata echoes the cart id back through the webhook.
	CreateCart(ctx context.Context, cmd CreateCartCommand) (CheckoutIntent, error)
	GetCart(ctx context.Context, cartID string) (Cart, error)
	ListCarts(ctx context.Context, userID string, pager Pagination) (CursorPage[Cart], error)
}

// CartItemRequest selects one product, and optionally a variation, to buy.
type CartItemRequest struct {
	ProductID   string
	VariationID string
	Quantity    int
}

// CreateCartCommand is the checkout input assembled from the storefront.
// AddressID resolves a stored address; Address supplies a formatted address
// directly when no stored one is referenced.
type CreateCartCommand struct {
	UserID      string
	FirstName   string
	LastName    string
	Email       string
	Items       []CartItemRequest
	CouponCode  string
	AddressID   string
	Address     string
	CallbackURL string
}

// CheckoutIntent pairs the persisted cart with the gateway redirect the buyer
// must follow to pay.
type CheckoutIntent struct {
	Cart        Cart
	Provider    string
	Reference   string
	AccessCode  string
	RedirectURL string
}

// ReconciliationOutcome classifies the terminal state of one webhook delivery.
type ReconciliationOutcome string

const (
	// OutcomeFulfilled means stock was decremented and an order was created.
	OutcomeFulfilled ReconciliationOutcome = "fulfilled"
	// OutcomeAlreadyProcessed means the cart was already paid; safe no-op.
	OutcomeAlreadyProcessed ReconciliationOutcome = "already_processed"
	// OutcomeChargeFailed means the gateway reported a failed charge; the
	// failure is recorded on the cart and no order is created.
	OutcomeChargeFailed ReconciliationOutcome = "charge_failed"
	// OutcomeIgnored means the event kind carries no fulfilment action.
	OutcomeIgnored ReconciliationOutcome = "ignored"
)

// ReconciliationResult reports what a processed webhook delivery did.
type ReconciliationResult struct {
	Outcome     ReconciliationOutcome
	CartID      string
	Reference   string
	OrderID     string
	OrderNumber string
}

// ReconciliationService turns verified charge events into durable state.
// Stock decrement, coupon settlement, cart finalization, and order creation
// commit atomically; a replayed delivery for the same cart is a no-op.
type ReconciliationService interface {
	// HandleWebhookEvent verifies the signature over the raw body, parses the
	// event, and reconciles charge outcomes. Signature failures return
	// ErrSignatureInvalid and must never cause side effects.
	HandleWebhookEvent(ctx context.Context, body []byte, signature string) (ReconciliationResult, error)
	// ReconcileReference re-runs reconciliation for a gateway reference and
	// cart without a webhook delivery (operator recovery path).
	ReconcileReference(ctx context.Context, reference string, cartID string) (ReconciliationResult, error)
}

// OrderService owns the post-creation order lifecycle.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (CursorPage[Order], error)
	// UpdateStatus advances the fulfilment state machine and refreshes the
	// derived display color. Only In Transit, Arrived, Delivered, and
	// Cancelled are valid targets; Cancelled routes through Cancel.
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus) (Order, error)
	// Cancel marks the order Cancelled, reverts the linked cart to Pending,
	// and issues a gateway refund; a refund failure aborts all three.
	Cancel(ctx context.Context, orderID string) (Order, error)
	RequestRefund(ctx context.Context, orderID string, amount int64) (Order, error)
	CompleteRefund(ctx context.Context, orderID string) (Order, error)
}

// OrderListQuery filters order listings for buyers and back-office views.
type OrderListQuery struct {
	UserID     string
	Status     []OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// CouponService manages discount codes and validates them at checkout time.
type CouponService interface {
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	DeleteCoupon(ctx context.Context, code string) error
	GetCoupon(ctx context.Context, code string) (Coupon, error)
	ListCoupons(ctx context.Context, pager Pagination) (CursorPage[Coupon], error)
	// ValidateCoupon resolves a code for checkout use, rejecting unknown and
	// expired codes.
	ValidateCoupon(ctx context.Context, code string) (Coupon, error)
	// SyncCoupons upserts codes imported from an upstream feed. Existing codes
	// keep their balance and usage counters.
	SyncCoupons(ctx context.Context, entries []CouponSyncEntry) (CouponSyncResult, error)
}

// CreateCouponCommand carries the writable fields of a discount code.
type CreateCouponCommand struct {
	Code            string
	DiscountPercent int
	ExpiresAt       *time.Time
}

// CouponSyncEntry is one feed record offered to SyncCoupons.
type CouponSyncEntry struct {
	Code            string
	DiscountPercent int
	ExpiresAt       *time.Time
}

// CouponSyncResult summarises a feed import.
type CouponSyncResult struct {
	Created int
	Updated int
	Skipped int
}

// ContentService manages storefront blog articles. Rich-text fields are
// sanitized before persistence.
type ContentService interface {
	CreatePost(ctx context.Context, cmd UpsertPostCommand) (BlogPost, error)
	UpdatePost(ctx context.Context, postID string, cmd UpsertPostCommand) (BlogPost, error)
	DeletePost(ctx context.Context, postID string) error
	GetPost(ctx context.Context, postID string) (BlogPost, error)
	ListPosts(ctx context.Context, query PostListQuery) (CursorPage[BlogPost], error)
	// UploadPostImage stores a thumb or cover image through the media store
	// and sets it on the article.
	UploadPostImage(ctx context.Context, postID string, upload ImageUpload) (BlogPost, error)
}

// UpsertPostCommand carries the writable fields of a blog article.
type UpsertPostCommand struct {
	Category         string
	Tags             []string
	Title            string
	Author           string
	Avatar           string
	ThumbImage       string
	CoverImage       string
	SubImages        []string
	ShortDescription string
	Description      string
	PublishedAt      *time.Time
}

// PostListQuery filters blog listings.
type PostListQuery struct {
	Category   *string
	Tag        *string
	Pagination Pagination
}

// AddressService manages customer delivery addresses.
type AddressService interface {
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	GetAddress(ctx context.Context, userID string, addressID string) (Address, error)
	CreateAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error)
	UpdateAddress(ctx context.Context, addressID string, cmd UpsertAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, userID string, addressID string) error
	SetDefaultAddress(ctx context.Context, userID string, addressID string) (Address, error)
}

// UpsertAddressCommand carries the writable fields of a delivery address.
// FormattedAddress is derived from the component fields on every write.
type UpsertAddressCommand struct {
	UserID           string
	PhoneNumber      string
	AlternativePhone string
	Email            string
	City             string
	DeliveryAddress  string
	Region           string
	ZipCode          string
}

// AdminAuthService authenticates back-office accounts with email and password.
type AdminAuthService interface {
	Register(ctx context.Context, cmd RegisterAdminCommand) (AdminSession, error)
	Login(ctx context.Context, email string, password string) (AdminSession, error)
	GetAdmin(ctx context.Context, adminID string) (AdminUser, error)
}

// RegisterAdminCommand carries the fields of a new back-office account.
type RegisterAdminCommand struct {
	Username string
	Email    string
	Password string
	Role     AdminRole
}

// AdminSession pairs an authenticated admin with a signed access token.
type AdminSession struct {
	Admin     AdminUser
	Token     string
	ExpiresAt time.Time
}

// Notification kinds carried on queued messages.
const (
	NotificationOrderConfirmation = "order_confirmation"
	NotificationPaymentFailed     = "payment_failed"
	NotificationStatusUpdate      = "status_update"
	NotificationStockAlert        = "stock_alert"
)

// OrderNotificationMessage is the queued payload for buyer-facing and
// operator-facing notifications about an order or a failed payment.
type OrderNotificationMessage struct {
	Kind           string    `json:"kind"`
	OrderID        string    `json:"orderId,omitempty"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	CartID         string    `json:"cartId,omitempty"`
	RecipientEmail string    `json:"recipientEmail"`
	RecipientName  string    `json:"recipientName,omitempty"`
	Total          int64     `json:"total,omitempty"`
	TotalDisplay   string    `json:"totalDisplay,omitempty"`
	QueuedAt       time.Time `json:"queuedAt"`
}

// NotificationPublisher hands a message to the delivery queue and returns the
// broker's message id.
type NotificationPublisher interface {
	PublishOrderNotification(ctx context.Context, msg OrderNotificationMessage) (string, error)
}

// NotificationService dispatches order notifications with bounded retries.
// Delivery failures are reported but must never block fulfilment.
type NotificationService interface {
	Dispatch(ctx context.Context, msg OrderNotificationMessage) error
}

// SystemService reports the service's dependency health for probe endpoints.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
	Ready(ctx context.Context) error
}
