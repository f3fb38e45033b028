package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// ProductType distinguishes products with a single stock counter from
// products whose stock and price live on variation options.
type ProductType string

const (
	// ProductTypeSimple is a product with a top-level price and quantity.
	ProductTypeSimple ProductType = "simple"
	// ProductTypeVariable is a product whose options carry price and quantity.
	ProductTypeVariable ProductType = "variable"
)

// Media references an uploaded image by its thumbnail and original URLs.
type Media struct {
	ID        string
	Thumbnail string
	Original  string
}

// Tag is a catalog classification label attached to a product.
type Tag struct {
	ID   string
	Name string
	Slug string
}

// VariationAttribute is a single name/value pair selecting a variation,
// e.g. {Name: "Wattage", Value: "9w"}.
type VariationAttribute struct {
	Name  string
	Value string
}

// VariationOption is one purchasable configuration of a variable product.
// Quantity is the option's own stock counter.
type VariationOption struct {
	ID        string
	Title     string
	SKU       string
	Price     int64
	SalePrice *int64
	Quantity  int
	Disabled  bool
	Options   []VariationAttribute
}

// EffectivePrice returns the sale price when set, otherwise the list price.
func (v VariationOption) EffectivePrice() int64 {
	if v.SalePrice != nil {
		return *v.SalePrice
	}
	return v.Price
}

// Product is a catalog entry. Simple products carry Price/SalePrice/Quantity
// directly; variable products derive MinPrice/MaxPrice from their variation
// options, which must be recomputed whenever the options change.
// All monetary amounts are minor currency units.
type Product struct {
	ID          string
	Slug        string
	Name        string
	Description string
	Type        ProductType
	Image       Media
	Gallery     []Media
	Price       int64
	SalePrice   *int64
	Quantity    int
	MinPrice    int64
	MaxPrice    int64
	Tags        []Tag
	Variations  []VariationOption
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EffectivePrice returns the simple product's sale price when set, otherwise
// its list price. Meaningless for variable products.
func (p Product) EffectivePrice() int64 {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// CartPaymentStatus tracks the payment state of a checkout attempt.
type CartPaymentStatus string

const (
	// CartPaymentPending means no successful charge has been reconciled.
	CartPaymentPending CartPaymentStatus = "Pending"
	// CartPaymentPaid means a verified charge was reconciled; terminal for fulfilment.
	CartPaymentPaid CartPaymentStatus = "Paid"
	// CartPaymentFailed records a gateway-reported charge failure.
	CartPaymentFailed CartPaymentStatus = "Failed"
	// CartPaymentRefunded marks a cart whose order was refunded.
	CartPaymentRefunded CartPaymentStatus = "Refunded"
)

// CartStatus tracks the lifecycle of the cart document itself.
type CartStatus string

const (
	// CartStatusPending is an open cart awaiting payment.
	CartStatusPending CartStatus = "Pending"
	// CartStatusCompleted is a cart consumed by a successful reconciliation.
	CartStatusCompleted CartStatus = "Completed"
)

// CartItem is a denormalized line item with the unit price captured at
// cart-creation time. LineTotal is always UnitPrice multiplied by Quantity.
type CartItem struct {
	ProductID      string
	VariationID    string
	ProductName    string
	VariationTitle string
	UnitPrice      int64
	Quantity       int
	LineTotal      int64
}

// AppliedCoupon is the coupon snapshot embedded in a cart.
type AppliedCoupon struct {
	Code            string
	DiscountPercent int
	AppliedAt       time.Time
}

// Cart is the checkout-time snapshot of selected items, prices, and delivery
// address. Once PaymentStatus reaches Paid the cart is immutable; a replayed
// success event for the same cart must not mutate stock again.
type Cart struct {
	ID               string
	UserID           string
	BuyerFirstName   string
	BuyerLastName    string
	BuyerEmail       string
	Items            []CartItem
	Subtotal         int64
	Discount         int64
	Total            int64
	Coupon           *AppliedCoupon
	Address          string
	PaymentStatus    CartPaymentStatus
	Status           CartStatus
	PaymentReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BuyerName joins the captured first and last names.
func (c Cart) BuyerName() string {
	switch {
	case c.BuyerFirstName == "":
		return c.BuyerLastName
	case c.BuyerLastName == "":
		return c.BuyerFirstName
	default:
		return c.BuyerFirstName + " " + c.BuyerLastName
	}
}

// Coupon is a discount code ledger entry. Balance accumulates the discount
// amounts ever granted through the code and only increases.
type Coupon struct {
	ID              string
	Code            string
	DiscountPercent int
	ExpiresAt       *time.Time
	Balance         int64
	UsageCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Expired reports whether the coupon is past its expiration at the given time.
func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// OrderStatus is the fulfilment state machine for an order.
type OrderStatus string

const (
	// OrderStatusProcessing is the initial state after reconciliation.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusInTransit means the shipment left the warehouse.
	OrderStatusInTransit OrderStatus = "In Transit"
	// OrderStatusArrived means the shipment reached the destination hub.
	OrderStatusArrived OrderStatus = "Arrived"
	// OrderStatusDelivered is the terminal success state.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCancelled is the terminal state for cancelled orders.
	OrderStatusCancelled OrderStatus = "Cancelled"
	// OrderStatusRefunded is the terminal state for refunded orders.
	OrderStatusRefunded OrderStatus = "Refunded"
)

// DisplayColor maps an order status to its fixed storefront color.
func (s OrderStatus) DisplayColor() string {
	switch s {
	case OrderStatusInTransit:
		return "#FFFF00"
	case OrderStatusArrived:
		return "#fff44f"
	case OrderStatusDelivered:
		return "#32CD32"
	case OrderStatusCancelled:
		return "#FF0000"
	case OrderStatusRefunded:
		return "#808080"
	default:
		return "#B0B0B0"
	}
}

// RefundStatus tracks the refund sub-flow on an order.
type RefundStatus string

const (
	// RefundNotRequested is the default refund state.
	RefundNotRequested RefundStatus = "Not Requested"
	// RefundRequested means a refund was requested and awaits completion.
	RefundRequested RefundStatus = "Requested"
	// RefundCompleted means the gateway confirmed the refund.
	RefundCompleted RefundStatus = "Completed"
	// RefundFailed records a refund the gateway rejected.
	RefundFailed RefundStatus = "Failed"
)

// Order is the durable record of a fulfilled purchase, created exactly once
// per successfully paid cart with a frozen copy of the cart's items, address,
// and total.
type Order struct {
	ID               string
	Number           string
	TrackingNumber   string
	UserID           string
	CartID           string
	Items            []CartItem
	Total            int64
	Address          string
	PaymentStatus    CartPaymentStatus
	PaymentReference string
	Status           OrderStatus
	StatusColor      string
	RefundStatus     RefundStatus
	RefundedAmount   int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Address is a customer delivery address. FormattedAddress is derived from
// the component fields and is what carts capture at checkout time.
type Address struct {
	ID               string
	UserID           string
	PhoneNumber      string
	AlternativePhone string
	Email            string
	City             string
	DeliveryAddress  string
	Region           string
	ZipCode          string
	FormattedAddress string
	Default          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BlogPost is an editorial article shown on the storefront.
type BlogPost struct {
	ID               string
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
	PublishedAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AdminRole enumerates back-office privilege levels.
type AdminRole string

const (
	// AdminRoleAdmin is a regular back-office operator.
	AdminRoleAdmin AdminRole = "admin"
	// AdminRoleSuperadmin can manage other admin accounts.
	AdminRoleSuperadmin AdminRole = "superadmin"
)

// AdminStatus enumerates admin account states.
type AdminStatus string

const (
	// AdminStatusActive allows login.
	AdminStatusActive AdminStatus = "active"
	// AdminStatusInactive blocks login without deleting the account.
	AdminStatusInactive AdminStatus = "inactive"
	// AdminStatusSuspended blocks login pending review.
	AdminStatusSuspended AdminStatus = "suspended"
)

// Health statuses reported by dependency probes and the aggregate report.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AdminUser is a back-office account authenticated by email and password.
type AdminUser struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         AdminRole
	Status       AdminStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
