// Package checkout orchestrates a multi-vendor checkout: validation, coupon
// policy, per-store order fan-out, persistence and payment initiation, plus
// the payment return leg.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
	"github.com/xenking/bazaar/internal/domain/user"
)

// State is the stage a checkout attempt reached.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateValidated        State = "VALIDATED"
	StatePriced           State = "PRICED"
	StatePersisted        State = "PERSISTED"
	StateGatewayInitiated State = "GATEWAY_INITIATED"
	StateCompleted        State = "COMPLETED"
	StateAwaitingCallback State = "AWAITING_CALLBACK"
)

// Request is a buyer's checkout submission.
type Request struct {
	AddressID     string
	Items         []order.CartLine
	CouponCode    string
	PaymentMethod order.PaymentMethod
}

// Aggregate is the grand view over every order created by one attempt.
type Aggregate struct {
	Subtotal        decimal.Decimal
	GSTAmount       decimal.Decimal
	ShippingCharge  decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	OrderIDs        []string
	OrderIDsByStore map[string]string
}

// Result is the outcome of PlaceOrder.
type Result struct {
	State     State
	Aggregate Aggregate
	Orders    []*order.Order
	Session   *payment.Session
}

// Verification is the outcome of a payment confirmation.
type Verification struct {
	OrderIDs []string
	// NewlyPaid lists orders flipped to paid by this call. It is empty on
	// replays.
	NewlyPaid []string
}

// CouponPolicy checks coupon eligibility.
type CouponPolicy interface {
	Validate(ctx context.Context, code, userID string, isMember bool) (*coupon.Coupon, error)
}

// OrderBuilder fans a cart out into per-store orders.
type OrderBuilder interface {
	Build(ctx context.Context, req order.BuildRequest) (*order.Plan, error)
}

// CartStore holds buyers' carts.
type CartStore interface {
	// Clear empties the cart. Clearing an empty cart succeeds.
	Clear(ctx context.Context, userID string) error
}

// IdempotencyStore records that a key has been processed.
type IdempotencyStore interface {
	// Claim returns true if key was not claimed before.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Publisher announces order lifecycle events.
type Publisher interface {
	OrdersPlaced(ctx context.Context, orders []*order.Order) error
	OrdersPaid(ctx context.Context, userID string, orderIDs []string) error
}

// RazorpayVerifier authenticates Razorpay confirmations.
type RazorpayVerifier interface {
	Verify(c payment.RazorpayConfirmation) error
}

// StripeConfirmer authenticates Stripe webhook deliveries.
type StripeConfirmer interface {
	Confirm(payload []byte, signature string) (*payment.StripeConfirmation, error)
}

// Deps are the collaborators of Service. Razorpay and Stripe may be nil when
// the method is not enabled.
type Deps struct {
	Users       user.Repository
	Coupons     CouponPolicy
	Builder     OrderBuilder
	Orders      order.Repository
	Carts       CartStore
	Idempotency IdempotencyStore
	Events      Publisher
	Adapters    []payment.Adapter
	Razorpay    RazorpayVerifier
	Stripe      StripeConfirmer

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Config bounds external calls.
type Config struct {
	Currency       string
	StoreTimeout   time.Duration
	GatewayTimeout time.Duration
	IdempotencyTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Currency == "" {
		c.Currency = "INR"
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 10 * time.Second
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 72 * time.Hour
	}
}

// Service runs checkout attempts. It holds no per-attempt state and is safe
// for concurrent use.
type Service struct {
	deps     Deps
	cfg      Config
	adapters map[order.PaymentMethod]payment.Adapter

	tracer   trace.Tracer
	placed   metric.Int64Counter
	verified metric.Int64Counter
	failures metric.Int64Counter
}

// NewService creates a checkout Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	cfg.setDefaults()
	if deps.TracerProvider == nil {
		deps.TracerProvider = tracenoop.NewTracerProvider()
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = metricnoop.NewMeterProvider()
	}

	s := &Service{
		deps:     deps,
		cfg:      cfg,
		adapters: make(map[order.PaymentMethod]payment.Adapter, len(deps.Adapters)),
		tracer:   deps.TracerProvider.Tracer("bazaar/checkout"),
	}
	for _, a := range deps.Adapters {
		s.adapters[a.Method()] = a
	}

	meter := deps.MeterProvider.Meter("bazaar/checkout")
	var err error
	if s.placed, err = meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders created by checkout"),
	); err != nil {
		return nil, fmt.Errorf("orders placed counter: %w", err)
	}
	if s.verified, err = meter.Int64Counter("checkout.payments.verified",
		metric.WithDescription("Orders marked paid by a payment confirmation"),
	); err != nil {
		return nil, fmt.Errorf("payments verified counter: %w", err)
	}
	if s.failures, err = meter.Int64Counter("checkout.failures",
		metric.WithDescription("Failed checkout operations by kind"),
	); err != nil {
		return nil, fmt.Errorf("failures counter: %w", err)
	}

	return s, nil
}

// PlaceOrder runs one checkout attempt. Failures before orders are persisted
// leave no trace in storage. Failures afterwards return *RecordedError and
// the orders remain unpaid.
func (s *Service) PlaceOrder(ctx context.Context, buyer auth.Identity, req Request) (_ *Result, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder", trace.WithAttributes(
		attribute.String("checkout.payment_method", string(req.PaymentMethod)),
		attribute.Int("checkout.items", len(req.Items)),
	))
	defer func() { s.finish(ctx, span, "place_order", rerr) }()

	lg := zctx.From(ctx).With(
		zap.String("user_id", buyer.UserID),
		zap.String("payment_method", string(req.PaymentMethod)),
	)

	// RECEIVED
	if buyer.UserID == "" {
		return nil, auth.ErrUnauthorized
	}
	adapter, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	// VALIDATED
	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.deps.Users.Ensure(ctx, user.User{ID: buyer.UserID, Email: buyer.Email, Name: buyer.Name})
	}); err != nil {
		return nil, fmt.Errorf("ensure user: %w: %w", ErrPersistenceFailure, err)
	}
	isMember := buyer.IsMember()

	var c *coupon.Coupon
	if req.CouponCode != "" {
		if err := s.withStore(ctx, func(ctx context.Context) error {
			var err error
			c, err = s.deps.Coupons.Validate(ctx, req.CouponCode, buyer.UserID, isMember)
			return err
		}); err != nil {
			return nil, err
		}
	}

	// PRICED
	var plan *order.Plan
	if err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		plan, err = s.deps.Builder.Build(ctx, order.BuildRequest{
			Lines:         req.Items,
			Coupon:        c,
			IsMember:      isMember,
			AddressID:     req.AddressID,
			UserID:        buyer.UserID,
			PaymentMethod: req.PaymentMethod,
		})
		return err
	}); err != nil {
		return nil, err
	}
	if !plan.Quote.Subtotal.IsPositive() {
		return nil, invalid("cart has no payable items")
	}

	// PERSISTED
	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.deps.Orders.CreateAll(ctx, plan.Orders)
	}); err != nil {
		return nil, fmt.Errorf("create orders: %w: %w", ErrPersistenceFailure, err)
	}
	s.placed.Add(ctx, int64(len(plan.Orders)), metric.WithAttributes(
		attribute.String("payment_method", string(req.PaymentMethod)),
	))
	lg.Info("Orders recorded",
		zap.Strings("order_ids", plan.OrderIDs),
		zap.String("total", plan.Quote.Total.String()),
	)
	s.publishPlaced(ctx, plan.Orders)

	res := &Result{
		State:  StatePersisted,
		Orders: plan.Orders,
		Aggregate: Aggregate{
			Subtotal:        plan.Quote.Subtotal.Round(2),
			GSTAmount:       plan.Quote.GSTAmount.Round(2),
			ShippingCharge:  plan.Quote.Shipping,
			Discount:        plan.Quote.Discount.Round(2),
			Total:           plan.Quote.Total.Round(2),
			OrderIDs:        plan.OrderIDs,
			OrderIDsByStore: plan.OrderIDsByStore,
		},
	}

	// GATEWAY_INITIATED
	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	session, err := adapter.Initiate(gwCtx, payment.Request{
		OrderIDs: plan.OrderIDs,
		UserID:   buyer.UserID,
		Amount:   plan.Quote.Total,
		Currency: s.cfg.Currency,
	})
	cancel()
	if err != nil {
		lg.Warn("Payment initiation failed, orders left unpaid",
			zap.Strings("order_ids", plan.OrderIDs), zap.Error(err))
		return nil, &RecordedError{
			OrderIDs: plan.OrderIDs,
			Err:      fmt.Errorf("%w: %w", ErrGatewayFailure, err),
		}
	}
	res.State = StateGatewayInitiated
	res.Session = session

	switch session.Method {
	case order.PaymentRazorpay:
		if err := s.withStore(ctx, func(ctx context.Context) error {
			return s.deps.Orders.SetRazorpayOrderID(ctx, plan.OrderIDs, session.GatewayOrderID)
		}); err != nil {
			return nil, &RecordedError{
				OrderIDs: plan.OrderIDs,
				Err:      fmt.Errorf("attach gateway order: %w: %w", ErrPersistenceFailure, err),
			}
		}
		for _, o := range plan.Orders {
			o.RazorpayOrderID = session.GatewayOrderID
		}
	case order.PaymentCOD:
		s.clearCart(ctx, buyer.UserID)
	}

	if session.Status == payment.SessionCompleted {
		res.State = StateCompleted
	} else {
		res.State = StateAwaitingCallback
	}
	span.SetAttributes(attribute.String("checkout.state", string(res.State)))
	return res, nil
}

// VerifyRazorpay settles the orders named by a Razorpay confirmation.
// Replaying a verified confirmation is a successful no-op.
func (s *Service) VerifyRazorpay(ctx context.Context, buyer auth.Identity, c payment.RazorpayConfirmation) (_ *Verification, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.VerifyRazorpay", trace.WithAttributes(
		attribute.String("razorpay.order_id", c.RazorpayOrderID),
	))
	defer func() { s.finish(ctx, span, "verify_razorpay", rerr) }()

	if buyer.UserID == "" {
		return nil, auth.ErrUnauthorized
	}
	if len(c.OrderIDs) == 0 {
		return nil, invalid("orderIds required")
	}
	if s.deps.Razorpay == nil {
		return nil, invalid("razorpay is not enabled")
	}
	if err := s.deps.Razorpay.Verify(c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentVerificationFailed, err)
	}

	var orders []order.Order
	if err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		orders, err = s.deps.Orders.FindByIDs(ctx, c.OrderIDs)
		return err
	}); err != nil {
		return nil, fmt.Errorf("find orders: %w: %w", ErrPersistenceFailure, err)
	}
	if err := matchOrders(orders, c.OrderIDs, buyer.UserID, c.RazorpayOrderID); err != nil {
		return nil, err
	}

	return s.settle(ctx, buyer.UserID, c.OrderIDs, "razorpay")
}

// HandleStripeWebhook processes one Stripe webhook delivery. Deliveries that
// are not for this deployment, or were processed already, are acknowledged
// without side effects.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (_ *Verification, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.HandleStripeWebhook")
	defer func() { s.finish(ctx, span, "stripe_webhook", rerr) }()

	if s.deps.Stripe == nil {
		return nil, invalid("stripe is not enabled")
	}
	conf, err := s.deps.Stripe.Confirm(payload, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentVerificationFailed, err)
	}
	lg := zctx.From(ctx).With(zap.String("event_id", conf.EventID))
	span.SetAttributes(attribute.String("stripe.event_id", conf.EventID))
	if !conf.Relevant {
		lg.Debug("Ignoring stripe event")
		return &Verification{}, nil
	}

	key := "stripe:event:" + conf.EventID
	first, err := s.deps.Idempotency.Claim(ctx, key, s.cfg.IdempotencyTTL)
	switch {
	case err != nil:
		// Settlement only flips unpaid rows, so processing twice is harmless.
		lg.Warn("Idempotency claim failed, processing anyway", zap.Error(err))
	case !first:
		lg.Info("Duplicate stripe event")
		return &Verification{OrderIDs: conf.OrderIDs}, nil
	}

	v, err := s.settle(ctx, conf.UserID, conf.OrderIDs, "stripe")
	if err != nil {
		if rerr := s.deps.Idempotency.Release(ctx, key); rerr != nil {
			lg.Warn("Release idempotency key", zap.Error(rerr))
		}
		return nil, err
	}
	return v, nil
}

// ListOrders returns the buyer's order history, newest first.
func (s *Service) ListOrders(ctx context.Context, buyer auth.Identity) (_ []order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ListOrders")
	defer func() { s.finish(ctx, span, "list_orders", rerr) }()

	if buyer.UserID == "" {
		return nil, auth.ErrUnauthorized
	}
	var orders []order.Order
	if err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		orders, err = s.deps.Orders.ListByUser(ctx, buyer.UserID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *Service) validate(req Request) (payment.Adapter, error) {
	if strings.TrimSpace(req.AddressID) == "" {
		return nil, invalid("addressId required")
	}
	if len(req.Items) == 0 {
		return nil, invalid("items required")
	}
	for _, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, invalid("item id required")
		}
		if it.Quantity <= 0 {
			return nil, invalid("quantity must be greater than 0 for product " + it.ProductID)
		}
	}
	if !req.PaymentMethod.Valid() {
		return nil, invalid("unsupported payment method " + string(req.PaymentMethod))
	}
	a, ok := s.adapters[req.PaymentMethod]
	if !ok {
		return nil, invalid("payment method " + string(req.PaymentMethod) + " is not enabled")
	}
	return a, nil
}

// settle marks orders paid and clears the buyer's cart. Only unpaid rows
// change, so repeated calls converge on the same state.
func (s *Service) settle(ctx context.Context, userID string, ids []string, via string) (*Verification, error) {
	var changed []string
	if err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.deps.Orders.MarkPaid(ctx, ids)
		return err
	}); err != nil {
		return nil, fmt.Errorf("mark paid: %w: %w", ErrPersistenceFailure, err)
	}

	s.clearCart(ctx, userID)

	lg := zctx.From(ctx)
	if len(changed) == 0 {
		lg.Info("Payment already settled", zap.Strings("order_ids", ids), zap.String("via", via))
		return &Verification{OrderIDs: ids}, nil
	}
	s.verified.Add(ctx, int64(len(changed)), metric.WithAttributes(attribute.String("gateway", via)))
	lg.Info("Payment settled", zap.Strings("order_ids", changed), zap.String("via", via))
	if err := s.deps.Events.OrdersPaid(ctx, userID, changed); err != nil {
		lg.Warn("Publish orders paid", zap.Error(err))
	}
	return &Verification{OrderIDs: ids, NewlyPaid: changed}, nil
}

// matchOrders checks that every id exists, belongs to userID and carries the
// gateway order id that was paid.
func matchOrders(orders []order.Order, ids []string, userID, razorpayOrderID string) error {
	byID := make(map[string]order.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	for _, id := range ids {
		o, ok := byID[id]
		if !ok {
			return fmt.Errorf("order %s not found: %w", id, ErrPaymentVerificationFailed)
		}
		if o.UserID != userID {
			return fmt.Errorf("order %s belongs to another buyer: %w", id, ErrPaymentVerificationFailed)
		}
		if o.RazorpayOrderID != razorpayOrderID {
			return fmt.Errorf("order %s was not paid by %s: %w", id, razorpayOrderID, ErrPaymentVerificationFailed)
		}
	}
	return nil
}

func (s *Service) clearCart(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.deps.Carts.Clear(ctx, userID)
	}); err != nil {
		zctx.From(ctx).Warn("Clear cart", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) publishPlaced(ctx context.Context, orders []*order.Order) {
	if err := s.deps.Events.OrdersPlaced(ctx, orders); err != nil {
		zctx.From(ctx).Warn("Publish orders placed", zap.Error(err))
	}
}

func (s *Service) withStore(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	kind := Kind(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	s.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("kind", kind),
	))
}
