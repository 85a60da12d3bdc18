package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/order"
)

const orderColumns = `id, user_id, store_id, address_id, subtotal, gst_amount, shipping_charge,
	discount, total, payment_method, is_paid, is_coupon_used, coupon, status,
	COALESCE(razorpay_order_id, ''), created_at`

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, store_id, address_id, subtotal, gst_amount,
		shipping_charge, discount, total, payment_method, is_paid, is_coupon_used, coupon, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, position, product_id, quantity, price, gst_percent, gst_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	findOrdersByIDsSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = ANY($1) ORDER BY created_at DESC, id`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 AND (is_paid OR payment_method = 'COD')
		ORDER BY created_at DESC, id`

	listOrdersByStoreSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE store_id = $1 ORDER BY created_at DESC, id`

	listItemsSQL = `SELECT order_id, product_id, quantity, price, gst_percent, gst_amount
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	countOrdersByUserSQL = `SELECT count(*) FROM orders WHERE user_id = $1`

	setRazorpayOrderIDSQL = `UPDATE orders SET razorpay_order_id = $2, updated_at = now()
		WHERE id = ANY($1) AND NOT is_paid`

	markPaidSQL = `UPDATE orders SET is_paid = TRUE, updated_at = now()
		WHERE id = ANY($1) AND NOT is_paid RETURNING id`

	updateStatusSQL = `UPDATE orders SET status = $3, is_paid = is_paid OR $4, updated_at = now()
		WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateAll inserts every order and its items in one transaction.
func (r *OrderRepository) CreateAll(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, o := range orders {
		b.Queue(insertOrderSQL,
			o.ID, o.UserID, o.StoreID, o.AddressID,
			o.Subtotal, o.GSTAmount, o.ShippingCharge, o.Discount, o.Total,
			string(o.PaymentMethod), o.IsPaid, o.IsCouponUsed, encodeCoupon(o.Coupon),
			string(o.Status), o.CreatedAt,
		)
		for i, it := range o.Items {
			b.Queue(insertOrderItemSQL,
				o.ID, i, it.ProductID, it.Quantity, it.Price, it.GSTPercent, it.GSTAmount,
			)
		}
	}

	br := tx.SendBatch(ctx, b)
	for range b.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("inserting orders: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing order batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing orders: %w", err)
	}
	return nil
}

// FindByIDs returns the orders with the given ids, with items.
func (r *OrderRepository) FindByIDs(ctx context.Context, ids []string) ([]order.Order, error) {
	return r.query(ctx, findOrdersByIDsSQL, ids)
}

// FindByID returns one order or order.ErrNotFound.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	orders, err := r.query(ctx, findOrdersByIDsSQL, []string{id})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, order.ErrNotFound
	}
	return &orders[0], nil
}

// ListByUser returns the buyer's paid and cash-on-delivery orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	return r.query(ctx, listOrdersByUserSQL, userID)
}

// ListByStore returns every order of the store, newest first.
func (r *OrderRepository) ListByStore(ctx context.Context, storeID string) ([]order.Order, error) {
	return r.query(ctx, listOrdersByStoreSQL, storeID)
}

// CountByUser counts the buyer's orders of any status.
func (r *OrderRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countOrdersByUserSQL, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders of %q: %w", userID, err)
	}
	return n, nil
}

// SetRazorpayOrderID attaches the gateway order to unpaid orders.
func (r *OrderRepository) SetRazorpayOrderID(ctx context.Context, ids []string, razorpayOrderID string) error {
	if _, err := r.pool.Exec(ctx, setRazorpayOrderIDSQL, ids, razorpayOrderID); err != nil {
		return fmt.Errorf("setting razorpay order id: %w", err)
	}
	return nil
}

// MarkPaid flips unpaid orders to paid and returns the ids that changed.
func (r *OrderRepository) MarkPaid(ctx context.Context, ids []string) ([]string, error) {
	rows, err := r.pool.Query(ctx, markPaidSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("marking orders paid: %w", err)
	}
	changed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("marking orders paid: %w", err)
	}
	return changed, nil
}

// UpdateStatus sets the fulfilment status if it is still from. markPaid only
// ever sets is_paid.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, markPaid bool) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, id, string(from), string(to), markPaid)
	if err != nil {
		return fmt.Errorf("updating status of %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return fmt.Errorf("order %q is no longer %s: %w", id, from, order.ErrStatusConflict)
}

func (r *OrderRepository) query(ctx context.Context, sql string, arg any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scanning orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err = r.pool.Query(ctx, listItemsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("querying order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("scanning order items: %w", err)
	}
	for _, it := range items {
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		method        string
		status        string
		couponPayload []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.StoreID, &o.AddressID,
		&o.Subtotal, &o.GSTAmount, &o.ShippingCharge, &o.Discount, &o.Total,
		&method, &o.IsPaid, &o.IsCouponUsed, &couponPayload, &status,
		&o.RazorpayOrderID, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentMethod = order.PaymentMethod(method)
	o.Status = order.Status(status)
	if o.Coupon, err = decodeCoupon(couponPayload); err != nil {
		return o, fmt.Errorf("order %q coupon: %w", o.ID, err)
	}
	return o, nil
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.GSTPercent, &it.GSTAmount)
	return it, err
}

// encodeCoupon renders the coupon snapshot stored with an order. A nil
// coupon is stored as SQL NULL.
func encodeCoupon(c *coupon.Coupon) []byte {
	if c == nil {
		return nil
	}
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discount")
	e.Str(c.Discount.String())
	e.FieldStart("forNewUser")
	e.Bool(c.ForNewUser)
	e.FieldStart("forMember")
	e.Bool(c.ForMember)
	if c.Description != "" {
		e.FieldStart("description")
		e.Str(c.Description)
	}
	e.ObjEnd()
	return e.Bytes()
}

func decodeCoupon(raw []byte) (*coupon.Coupon, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(raw)
	if d.Next() == jx.Null {
		return nil, nil
	}
	var c coupon.Coupon
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			c.Code, err = d.Str()
		case "discount":
			var s string
			if s, err = d.Str(); err == nil {
				c.Discount, err = decimal.NewFromString(s)
			}
		case "forNewUser":
			c.ForNewUser, err = d.Bool()
		case "forMember":
			c.ForMember, err = d.Bool()
		case "description":
			c.Description, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode coupon snapshot")
	}
	return &c, nil
}
