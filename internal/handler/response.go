package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/checkout"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money writes an amount as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeStrings(e *jx.Encoder, values []string) {
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}

func encodeResult(e *jx.Encoder, res *checkout.Result) {
	agg := res.Aggregate
	e.ObjStart()
	e.FieldStart("state")
	e.Str(string(res.State))
	e.FieldStart("orderIds")
	encodeStrings(e, agg.OrderIDs)
	e.FieldStart("ordersByStore")
	e.ObjStart()
	for _, o := range res.Orders {
		e.FieldStart(o.StoreID)
		e.Str(o.ID)
	}
	e.ObjEnd()
	e.FieldStart("total")
	money(e, agg.Total)
	e.FieldStart("breakdown")
	e.ObjStart()
	e.FieldStart("subtotal")
	money(e, agg.Subtotal)
	e.FieldStart("gstAmount")
	money(e, agg.GSTAmount)
	e.FieldStart("shippingCharge")
	money(e, agg.ShippingCharge)
	e.FieldStart("discount")
	money(e, agg.Discount)
	e.FieldStart("total")
	money(e, agg.Total)
	e.ObjEnd()

	if s := res.Session; s != nil {
		switch s.Method {
		case order.PaymentCOD:
			e.FieldStart("message")
			e.Str("Order placed successfully")
		case order.PaymentRazorpay:
			e.FieldStart("razorpayOrder")
			encodeGatewayOrder(e, s)
		case order.PaymentStripe:
			e.FieldStart("session")
			e.ObjStart()
			e.FieldStart("id")
			e.Str(s.GatewayOrderID)
			e.FieldStart("url")
			e.Str(s.URL)
			e.ObjEnd()
		}
	}
	e.ObjEnd()
}

func encodeGatewayOrder(e *jx.Encoder, s *payment.Session) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.GatewayOrderID)
	e.FieldStart("amount")
	e.Int64(s.Amount)
	e.FieldStart("currency")
	e.Str(s.Currency)
	e.ObjEnd()
}

func encodeOrderList(e *jx.Encoder, orders []order.Order) {
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for _, o := range orders {
		encodeOrder(e, o)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("storeId")
	e.Str(o.StoreID)
	e.FieldStart("addressId")
	e.Str(o.AddressID)
	e.FieldStart("subtotal")
	money(e, o.Subtotal)
	e.FieldStart("gstAmount")
	money(e, o.GSTAmount)
	e.FieldStart("shippingCharge")
	money(e, o.ShippingCharge)
	e.FieldStart("discount")
	money(e, o.Discount)
	e.FieldStart("total")
	money(e, o.Total)
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("isPaid")
	e.Bool(o.IsPaid)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("isCouponUsed")
	e.Bool(o.IsCouponUsed)
	if o.Coupon != nil {
		e.FieldStart("coupon")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(o.Coupon.Code)
		e.FieldStart("discount")
		e.Num(jx.Num(o.Coupon.Discount.String()))
		e.ObjEnd()
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		money(e, it.Price)
		e.FieldStart("gstPercent")
		e.Num(jx.Num(it.GSTPercent.String()))
		e.FieldStart("gstAmount")
		money(e, it.GSTAmount)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
