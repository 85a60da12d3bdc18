package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/checkout"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/fulfilment"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
)

// --- Mock implementations ---

type mockCheckout struct {
	placeReq  checkout.Request
	placeID   auth.Identity
	placeRes  *checkout.Result
	placeErr  error
	confirm   payment.RazorpayConfirmation
	verifyRes *checkout.Verification
	verifyErr error
	payload   string
	signature string
	stripeErr error
	orders    []order.Order
	listErr   error
}

func (m *mockCheckout) PlaceOrder(_ context.Context, id auth.Identity, req checkout.Request) (*checkout.Result, error) {
	m.placeID, m.placeReq = id, req
	return m.placeRes, m.placeErr
}

func (m *mockCheckout) VerifyRazorpay(_ context.Context, _ auth.Identity, c payment.RazorpayConfirmation) (*checkout.Verification, error) {
	m.confirm = c
	return m.verifyRes, m.verifyErr
}

func (m *mockCheckout) HandleStripeWebhook(_ context.Context, payload []byte, signature string) (*checkout.Verification, error) {
	m.payload, m.signature = string(payload), signature
	return nil, m.stripeErr
}

func (m *mockCheckout) ListOrders(context.Context, auth.Identity) ([]order.Order, error) {
	return m.orders, m.listErr
}

type mockFulfilment struct {
	storeID string
	orderID string
	next    order.Status
	orders  []order.Order
	err     error
}

func (m *mockFulfilment) ListStoreOrders(_ context.Context, _ auth.Identity, storeID string) ([]order.Order, error) {
	m.storeID = storeID
	return m.orders, m.err
}

func (m *mockFulfilment) AdvanceStatus(_ context.Context, _ auth.Identity, orderID string, next order.Status) (*order.Order, error) {
	m.orderID, m.next = orderID, next
	if m.err != nil {
		return nil, m.err
	}
	return &order.Order{ID: orderID, Status: next, CreatedAt: time.Unix(0, 0)}, nil
}

// --- Helpers ---

var testSecret = []byte("test-secret")

type fixture struct {
	checkout   *mockCheckout
	fulfilment *mockFulfilment
	mux        *http.ServeMux
	token      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens := auth.NewTokenVerifier(testSecret, "bazaar")
	token, err := tokens.Sign(auth.Identity{UserID: "user-1", Email: "a@example.com", Plans: []string{auth.PlanPlus}}, time.Hour)
	require.NoError(t, err)

	f := &fixture{
		checkout:   &mockCheckout{},
		fulfilment: &mockFulfilment{},
		mux:        http.NewServeMux(),
		token:      token,
	}
	New(f.checkout, f.fulfilment, tokens).Register(f.mux)
	return f
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func razorpayResult() *checkout.Result {
	return &checkout.Result{
		State: checkout.StateAwaitingCallback,
		Orders: []*order.Order{
			{ID: "o1", StoreID: "S1"},
			{ID: "o2", StoreID: "S2"},
		},
		Aggregate: checkout.Aggregate{
			Subtotal:       decimal.NewFromInt(300),
			GSTAmount:      decimal.NewFromInt(18),
			ShippingCharge: decimal.NewFromInt(50),
			Discount:       decimal.Zero,
			Total:          decimal.NewFromInt(368),
			OrderIDs:       []string{"o1", "o2"},
		},
		Session: &payment.Session{
			Method:         order.PaymentRazorpay,
			Status:         payment.SessionPending,
			GatewayOrderID: "order_rzp_1",
			Amount:         36800,
			Currency:       "INR",
		},
	}
}

// --- Tests ---

func TestPlaceOrder_Razorpay(t *testing.T) {
	f := newFixture(t)
	f.checkout.placeRes = razorpayResult()

	w := f.do(http.MethodPost, "/api/orders", `{
		"addressId": "addr-1",
		"items": [{"id": "A", "quantity": 2, "variant": "Classic", "size": "L"}, {"id": "B", "quantity": 1, "size": null}],
		"couponCode": "TEN",
		"paymentMethod": "RAZORPAY",
		"clientTotal": 1
	}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "user-1", f.checkout.placeID.UserID)
	assert.True(t, f.checkout.placeID.IsMember())
	assert.Equal(t, checkout.Request{
		AddressID:     "addr-1",
		CouponCode:    "TEN",
		PaymentMethod: order.PaymentRazorpay,
		Items: []order.CartLine{
			{ProductID: "A", Quantity: 2, Variant: "Classic", Size: "L"},
			{ProductID: "B", Quantity: 1},
		},
	}, f.checkout.placeReq)

	assert.JSONEq(t, `{
		"state": "AWAITING_CALLBACK",
		"orderIds": ["o1", "o2"],
		"ordersByStore": {"S1": "o1", "S2": "o2"},
		"total": 368.00,
		"breakdown": {"subtotal": 300.00, "gstAmount": 18.00, "shippingCharge": 50.00, "discount": 0.00, "total": 368.00},
		"razorpayOrder": {"id": "order_rzp_1", "amount": 36800, "currency": "INR"}
	}`, w.Body.String())
}

func TestPlaceOrder_ItemIDKeys(t *testing.T) {
	f := newFixture(t)
	f.checkout.placeRes = razorpayResult()

	w := f.do(http.MethodPost, "/api/orders", `{"addressId":"a","items":[{"id":"A","quantity":1},{"productId":"B","quantity":3}],"paymentMethod":"COD"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []order.CartLine{
		{ProductID: "A", Quantity: 1},
		{ProductID: "B", Quantity: 3},
	}, f.checkout.placeReq.Items)
}

func TestPlaceOrder_CODAndStripeBodies(t *testing.T) {
	f := newFixture(t)
	res := razorpayResult()
	res.State = checkout.StateCompleted
	res.Session = &payment.Session{Method: order.PaymentCOD}
	f.checkout.placeRes = res

	w := f.do(http.MethodPost, "/api/orders", `{"addressId":"a","items":[{"id":"A","quantity":1}],"paymentMethod":"COD"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"Order placed successfully"`)
	assert.NotContains(t, w.Body.String(), "razorpayOrder")

	res.Session = &payment.Session{Method: order.PaymentStripe, GatewayOrderID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}
	w = f.do(http.MethodPost, "/api/orders", `{"addressId":"a","items":[{"id":"A","quantity":1}],"paymentMethod":"STRIPE"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"session":{"id":"cs_1","url":"https://checkout.stripe.com/c/cs_1"}`)
}

func TestCreateRazorpayOrder_ForcesMethod(t *testing.T) {
	f := newFixture(t)
	f.checkout.placeRes = razorpayResult()

	w := f.do(http.MethodPost, "/api/payments/razorpay/order", `{"addressId":"a","items":[{"id":"A","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, order.PaymentRazorpay, f.checkout.placeReq.PaymentMethod)

	w = f.do(http.MethodPost, "/api/payments/razorpay/order", `{"addressId":"a","items":[],"paymentMethod":"COD"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrder_Errors(t *testing.T) {
	for _, tt := range []struct {
		name     string
		err      error
		status   int
		kind     string
		recorded bool
	}{
		{name: "InvalidRequest", err: errors.Wrap(checkout.ErrInvalidRequest, "items required"), status: 400, kind: "invalid_request"},
		{name: "CouponNotFound", err: coupon.ErrCouponNotFound, status: 422, kind: "coupon_not_found"},
		{name: "NewUsersOnly", err: coupon.ErrCouponNewUsersOnly, status: 422, kind: "coupon_new_users_only"},
		{name: "ProductNotFound", err: &order.ProductNotFoundError{ProductID: "ghost"}, status: 422, kind: "product_not_found"},
		{name: "Persistence", err: fmt.Errorf("create orders: %w: %w", checkout.ErrPersistenceFailure, errors.New("conn reset")), status: 500, kind: "persistence_failure"},
		{name: "GatewayRecorded", err: &checkout.RecordedError{
			OrderIDs: []string{"o1", "o2"},
			Err:      fmt.Errorf("%w: %w", checkout.ErrGatewayFailure, errors.New("timeout")),
		}, status: 502, kind: "gateway_failure", recorded: true},
		{name: "Unknown", err: errors.New("boom"), status: 500, kind: "internal"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.checkout.placeErr = tt.err

			w := f.do(http.MethodPost, "/api/orders", `{"addressId":"a","items":[{"id":"A","quantity":1}],"paymentMethod":"RAZORPAY"}`)
			assert.Equal(t, tt.status, w.Code)
			body := w.Body.String()
			assert.Contains(t, body, fmt.Sprintf(`"code":%d`, tt.status))
			assert.Contains(t, body, fmt.Sprintf(`"kind":%q`, tt.kind))
			assert.Contains(t, body, fmt.Sprintf(`"ordersRecorded":%t`, tt.recorded))
			if tt.recorded {
				assert.Contains(t, body, `"orderIds":["o1","o2"]`)
			}
			assert.NotContains(t, body, "conn reset")
		})
	}
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{``, `{`, `{"items":[{"quantity":"two"}]}`, `[]`} {
		w := f.do(http.MethodPost, "/api/orders", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), `"kind":"invalid_request"`)
	}
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)
	other := auth.NewTokenVerifier([]byte("other"), "bazaar")
	forged, err := other.Sign(auth.Identity{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer garbage", "Bearer " + forged} {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.Contains(t, w.Body.String(), `"kind":"unauthorized"`)
	}
}

func TestVerifyRazorpay(t *testing.T) {
	f := newFixture(t)
	f.checkout.verifyRes = &checkout.Verification{OrderIDs: []string{"o1", "o2"}, NewlyPaid: []string{"o1", "o2"}}

	w := f.do(http.MethodPost, "/api/payments/razorpay/verify", `{
		"orderIds": ["o1", "o2"],
		"razorpay_order_id": "order_rzp_1",
		"razorpay_payment_id": "pay_1",
		"razorpay_signature": "sig"
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payment.RazorpayConfirmation{
		OrderIDs:          []string{"o1", "o2"},
		RazorpayOrderID:   "order_rzp_1",
		RazorpayPaymentID: "pay_1",
		Signature:         "sig",
	}, f.checkout.confirm)
	assert.JSONEq(t, `{"message":"Payment verified","orderIds":["o1","o2"],"newlyPaid":["o1","o2"]}`, w.Body.String())

	f.checkout.verifyErr = errors.Wrap(checkout.ErrPaymentVerificationFailed, "signature mismatch")
	w = f.do(http.MethodPost, "/api/payments/razorpay/verify", `{"orderIds":["o1"],"razorpayOrderId":"x","razorpayPaymentId":"y","razorpaySignature":"z"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"payment_verification_failed"`)
}

func TestStripeWebhook_NoBearerRequired(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assert.Equal(t, `{"id":"evt_1"}`, f.checkout.payload)
	assert.Equal(t, "t=1,v1=abc", f.checkout.signature)

	f.checkout.stripeErr = errors.Wrap(checkout.ErrPaymentVerificationFailed, "bad signature")
	w = httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payments/stripe/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	f.checkout.orders = []order.Order{{
		ID:            "o1",
		UserID:        "user-1",
		StoreID:       "S1",
		Subtotal:      decimal.NewFromInt(100),
		GSTAmount:     decimal.NewFromInt(18),
		Discount:      decimal.NewFromInt(10),
		Total:         decimal.NewFromInt(158),
		PaymentMethod: order.PaymentCOD,
		Status:        order.StatusPlaced,
		IsCouponUsed:  true,
		Coupon:        &coupon.Coupon{Code: "TEN", Discount: decimal.NewFromInt(10)},
		Items: []order.Item{{
			ProductID:  "A",
			Quantity:   1,
			Price:      decimal.NewFromInt(100),
			GSTPercent: decimal.NewFromInt(18),
			GSTAmount:  decimal.NewFromInt(18),
		}},
		CreatedAt: created,
	}}

	w := f.do(http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"id":"o1"`)
	assert.Contains(t, body, `"total":158.00`)
	assert.Contains(t, body, `"coupon":{"code":"TEN","discount":10}`)
	assert.Contains(t, body, `"gstPercent":18`)
	assert.Contains(t, body, `"createdAt":"2025-06-15T12:00:00Z"`)
}

func TestStoreOrdersAndStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/stores/S1/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "S1", f.fulfilment.storeID)
	assert.JSONEq(t, `{"orders":[]}`, w.Body.String())

	w = f.do(http.MethodPatch, "/api/orders/o1/status", `{"status":"SHIPPED"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "o1", f.fulfilment.orderID)
	assert.Equal(t, order.StatusShipped, f.fulfilment.next)

	w = f.do(http.MethodPatch, "/api/orders/o1/status", `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, tt := range []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: DELIVERED to SHIPPED", fulfilment.ErrInvalidTransition), 400, "invalid_transition"},
		{auth.ErrForbidden, 403, "forbidden"},
		{order.ErrNotFound, 404, "not_found"},
	} {
		f.fulfilment.err = tt.err
		w = f.do(http.MethodPatch, "/api/orders/o1/status", `{"status":"SHIPPED"}`)
		assert.Equal(t, tt.status, w.Code, tt.kind)
		assert.Contains(t, w.Body.String(), fmt.Sprintf(`"kind":%q`, tt.kind))
	}
}
