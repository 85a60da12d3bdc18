package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bazaar/internal/domain/checkout"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
)

func readBody(r *http.Request) (*jx.Decoder, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(checkout.ErrInvalidRequest, "read body")
	}
	if len(body) > maxBodyBytes {
		return nil, errors.Wrap(checkout.ErrInvalidRequest, "body too large")
	}
	return jx.DecodeBytes(body), nil
}

func malformed(err error) error {
	return errors.Wrap(checkout.ErrInvalidRequest, "malformed JSON: "+err.Error())
}

// decodeCheckoutRequest reads
// {addressId, items:[{id, quantity, variant, size}], couponCode, paymentMethod}.
// "productId" is accepted as an alias of the item id.
func decodeCheckoutRequest(r *http.Request) (checkout.Request, error) {
	var req checkout.Request
	d, err := readBody(r)
	if err != nil {
		return req, err
	}
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "addressId":
			req.AddressID, err = d.Str()
		case "couponCode":
			req.CouponCode, err = optionalStr(d)
		case "paymentMethod":
			var m string
			m, err = d.Str()
			req.PaymentMethod = order.PaymentMethod(m)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				line, err := decodeCartLine(d)
				req.Items = append(req.Items, line)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, malformed(err)
	}
	return req, nil
}

func decodeCartLine(d *jx.Decoder) (order.CartLine, error) {
	var l order.CartLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id", "productId":
			l.ProductID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		case "variant":
			l.Variant, err = optionalStr(d)
		case "size":
			l.Size, err = optionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}

// decodeRazorpayConfirmation accepts the snake_case fields returned by the
// Razorpay checkout widget as well as camelCase.
func decodeRazorpayConfirmation(r *http.Request) (payment.RazorpayConfirmation, error) {
	var c payment.RazorpayConfirmation
	d, err := readBody(r)
	if err != nil {
		return c, err
	}
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderIds":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				c.OrderIDs = append(c.OrderIDs, id)
				return err
			})
		case "razorpay_order_id", "razorpayOrderId":
			c.RazorpayOrderID, err = d.Str()
		case "razorpay_payment_id", "razorpayPaymentId":
			c.RazorpayPaymentID, err = d.Str()
		case "razorpay_signature", "razorpaySignature":
			c.Signature, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return c, malformed(err)
	}
	return c, nil
}

func decodeStatusUpdate(r *http.Request) (order.Status, error) {
	d, err := readBody(r)
	if err != nil {
		return "", err
	}
	var status string
	err = d.Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		status, err = d.Str()
		return err
	})
	if err != nil {
		return "", malformed(err)
	}
	s := order.Status(status)
	if !s.Valid() {
		return "", errors.Wrapf(checkout.ErrInvalidRequest, "unknown status %q", status)
	}
	return s, nil
}

func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
