package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// ErrStatusConflict is returned when an order's status changed between being
// read and being updated.
var ErrStatusConflict = errors.New("order status changed concurrently")

// PaymentMethod is how the buyer settles an order.
type PaymentMethod string

const (
	PaymentCOD      PaymentMethod = "COD"
	PaymentRazorpay PaymentMethod = "RAZORPAY"
	PaymentStripe   PaymentMethod = "STRIPE"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentRazorpay, PaymentStripe:
		return true
	default:
		return false
	}
}

// Status is the fulfilment state of an order. Checkout only ever creates
// orders in StatusPlaced; later states are set by the selling store.
type Status string

const (
	StatusPlaced     Status = "ORDER_PLACED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
)

var statusRank = map[Status]int{
	StatusPlaced:     0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusDelivered:  3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether next is strictly later than s.
func (s Status) CanAdvanceTo(next Status) bool {
	cur, ok1 := statusRank[s]
	nxt, ok2 := statusRank[next]
	return ok1 && ok2 && nxt > cur
}

// Order is the share of one checkout attempt owned by a single store.
// Total is fixed at creation and never recomputed.
type Order struct {
	ID              string
	UserID          string
	StoreID         string
	AddressID       string
	Subtotal        decimal.Decimal
	GSTAmount       decimal.Decimal
	ShippingCharge  decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   PaymentMethod
	IsPaid          bool
	IsCouponUsed    bool
	Coupon          *coupon.Coupon
	Status          Status
	RazorpayOrderID string
	Items           []Item
	CreatedAt       time.Time
}

// Item is a point-in-time snapshot of a purchased product.
type Item struct {
	OrderID    string
	ProductID  string
	Quantity   int
	Price      decimal.Decimal
	GSTPercent decimal.Decimal
	GSTAmount  decimal.Decimal
}

// CartLine is a product selection supplied by the buyer. Prices are never
// taken from the client.
type CartLine struct {
	ProductID string
	Quantity  int
	Variant   string
	Size      string
}

// Repository persists orders and their items.
type Repository interface {
	// CreateAll stores every order with its items atomically: either all
	// rows exist afterwards or none do.
	CreateAll(ctx context.Context, orders []*Order) error
	FindByIDs(ctx context.Context, ids []string) ([]Order, error)
	FindByID(ctx context.Context, id string) (*Order, error)
	// ListByUser returns a buyer's paid and cash-on-delivery orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListByStore(ctx context.Context, storeID string) ([]Order, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	SetRazorpayOrderID(ctx context.Context, ids []string, razorpayOrderID string) error
	// MarkPaid flips is_paid on the listed orders that are still unpaid and
	// returns the ids that changed.
	MarkPaid(ctx context.Context, ids []string) ([]string, error)
	// UpdateStatus moves the order from status from to status to. It returns
	// ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, markPaid bool) error
}
