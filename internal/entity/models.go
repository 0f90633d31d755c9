package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the catalog lifecycle state of a product.
type ProductStatus string

const (
	ProductActive     ProductStatus = "active"
	ProductOutOfStock ProductStatus = "out_of_stock"
	ProductInactive   ProductStatus = "inactive"
	ProductDraft      ProductStatus = "draft"
)

// Product represents a vendor-owned product in the store.
// Status out_of_stock is derived by the stock ledger and never set by callers.
type Product struct {
	ID          string          `json:"id"`
	VendorID    string          `json:"vendor_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	Category    string          `json:"category"`
	Stock       int             `json:"stock"`
	Status      ProductStatus   `json:"status"`
}

// Purchasable reports whether the product may be placed in a cart or order.
// Out-of-stock products are still purchasable; the ledger rejects the reservation.
func (p *Product) Purchasable() bool {
	return p.Status == ProductActive || p.Status == ProductOutOfStock
}

// ProductVariant carries stock for one selector (size, colour, ...) of a product.
// Variants are priced like their product.
type ProductVariant struct {
	ProductID string `json:"product_id"`
	Selector  string `json:"selector"`
	Stock     int    `json:"stock"`
}

// Address is a structured shipping address.
type Address struct {
	RecipientName string `json:"recipient_name"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	State         string `json:"state,omitempty"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
}

// Validate checks that every required address field is present.
func (a Address) Validate() error {
	for _, f := range []string{a.RecipientName, a.Line1, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(f) == "" {
			return ErrInvalidAddress
		}
	}
	return nil
}

// DiscountType selects how a coupon's value is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is a discount code. Codes are stored upper-case.
type Coupon struct {
	Code         string              `json:"code"`
	Type         DiscountType        `json:"discount_type"`
	Value        decimal.Decimal     `json:"discount_value"`
	MaxDiscount  decimal.NullDecimal `json:"max_discount"`
	MinPurchase  decimal.Decimal     `json:"min_purchase"`
	ValidFrom    time.Time           `json:"valid_from"`
	ValidUntil   time.Time           `json:"valid_until"`
	UsageLimit   *int                `json:"usage_limit,omitempty"`
	UsedCount    int                 `json:"used_count"`
	UsagePerUser int                 `json:"usage_per_user"`
	Active       bool                `json:"active"`
	UsedBy       map[string]int      `json:"used_by,omitempty"`
}

// NormalizeCouponCode returns the canonical form of a coupon code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Pricing is the monetary snapshot fixed on an order at creation.
type Pricing struct {
	ItemsTotal   decimal.Decimal `json:"items_total"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Tax          decimal.Decimal `json:"tax"`
	Discount     decimal.Decimal `json:"discount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// Equal reports whether two snapshots carry the same amounts.
func (p Pricing) Equal(o Pricing) bool {
	return p.ItemsTotal.Equal(o.ItemsTotal) &&
		p.ShippingCost.Equal(o.ShippingCost) &&
		p.TaxRate.Equal(o.TaxRate) &&
		p.Tax.Equal(o.Tax) &&
		p.Discount.Equal(o.Discount) &&
		p.TotalAmount.Equal(o.TotalAmount)
}

// OrderItem is one vendor's line within an order. Name, price, image and
// variant are snapshotted at checkout and never follow later catalog edits.
type OrderItem struct {
	ID              string            `json:"id"`
	ProductID       string            `json:"product_id"`
	VendorID        string            `json:"vendor_id"`
	Name            string            `json:"name"`
	UnitPrice       decimal.Decimal   `json:"unit_price"`
	Quantity        int               `json:"quantity"`
	ImageURL        string            `json:"image_url"`
	Variant         string            `json:"variant,omitempty"`
	Status          FulfillmentStatus `json:"status"`
	TrackingNumber  string            `json:"tracking_number,omitempty"`
	StatusChangedAt time.Time         `json:"status_changed_at"`
	ShippedAt       *time.Time        `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time        `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	ReturnedAt      *time.Time        `json:"returned_at,omitempty"`
}

// LineTotal returns unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order represents a customer order.
type Order struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	Items              []OrderItem       `json:"items"`
	ShippingAddress    Address           `json:"shipping_address"`
	Pricing            Pricing           `json:"pricing"`
	CouponCode         string            `json:"coupon_code,omitempty"`
	PaymentMethod      string            `json:"payment_method"`
	PaymentStatus      PaymentStatus     `json:"payment_status"`
	PaymentReference   string            `json:"payment_reference,omitempty"`
	Status             FulfillmentStatus `json:"status"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	ReturnReason       string            `json:"return_reason,omitempty"`
	ReturnedAt         *time.Time        `json:"returned_at,omitempty"`
	Version            int               `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// VendorIDs returns the distinct vendors represented in the order, in item order.
func (o *Order) VendorIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	var vendors []string
	for _, item := range o.Items {
		if !seen[item.VendorID] {
			seen[item.VendorID] = true
			vendors = append(vendors, item.VendorID)
		}
	}
	return vendors
}

// ItemsForVendor returns the items owned by vendorID.
func (o *Order) ItemsForVendor(vendorID string) []OrderItem {
	var items []OrderItem
	for _, item := range o.Items {
		if item.VendorID == vendorID {
			items = append(items, item)
		}
	}
	return items
}

// --- Commands ---

// PlaceOrder is a command to create a new order.
type PlaceOrder struct {
	OrderID         string      `json:"order_id"`
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	ShippingAddress Address     `json:"shipping_address"`
	Pricing         Pricing     `json:"pricing"`
	CouponCode      string      `json:"coupon_code,omitempty"`
	PaymentMethod   string      `json:"payment_method"`
	PlacedAt        time.Time   `json:"placed_at"`
}

// --- Events ---

// OrderPlaced is emitted when an order is persisted from a checked-out cart.
type OrderPlaced struct {
	OrderID         string      `json:"order_id"`
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	ShippingAddress Address     `json:"shipping_address"`
	Pricing         Pricing     `json:"pricing"`
	CouponCode      string      `json:"coupon_code,omitempty"`
	PaymentMethod   string      `json:"payment_method"`
	PlacedAt        time.Time   `json:"placed_at"`
}

func (e OrderPlaced) EventType() string { return "OrderPlaced" }

// ItemStatusChanged is emitted for every item-level fulfillment transition.
type ItemStatusChanged struct {
	OrderID        string            `json:"order_id"`
	ItemID         string            `json:"item_id"`
	VendorID       string            `json:"vendor_id"`
	From           FulfillmentStatus `json:"from"`
	To             FulfillmentStatus `json:"to"`
	TrackingNumber string            `json:"tracking_number,omitempty"`
	ActorID        string            `json:"actor_id"`
	ChangedAt      time.Time         `json:"changed_at"`
}

func (e ItemStatusChanged) EventType() string { return "ItemStatusChanged" }

// OrderCancelled is emitted when the buyer cancels the whole order.
type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	ActorID     string    `json:"actor_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (e OrderCancelled) EventType() string { return "OrderCancelled" }

// OrderReturned is emitted when the buyer returns a delivered order.
type OrderReturned struct {
	OrderID    string    `json:"order_id"`
	ActorID    string    `json:"actor_id"`
	Reason     string    `json:"reason"`
	ReturnedAt time.Time `json:"returned_at"`
}

func (e OrderReturned) EventType() string { return "OrderReturned" }

// PaymentRecorded is emitted when the payment outcome of an order changes.
type PaymentRecorded struct {
	OrderID    string        `json:"order_id"`
	Status     PaymentStatus `json:"status"`
	Reference  string        `json:"reference,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

func (e PaymentRecorded) EventType() string { return "PaymentRecorded" }
