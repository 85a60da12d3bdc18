package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/checkout"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/fulfilment"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
	"github.com/xenking/bazaar/internal/events"
	"github.com/xenking/bazaar/internal/gateway/razorpay"
	"github.com/xenking/bazaar/internal/gateway/stripe"
	"github.com/xenking/bazaar/internal/handler"
	"github.com/xenking/bazaar/internal/storage/postgres"
	"github.com/xenking/bazaar/internal/storage/redis"
	"github.com/xenking/bazaar/pkg/health"
	"github.com/xenking/bazaar/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	srv, err := NewServer(zctx.Base(ctx, lg), cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer srv.Close()

	srv.Health.Start(ctx, 10*time.Second)
	srv.Health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Checkout.GatewayTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.Handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		srv.Health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// Server is the wired API: the instrumented handler, its health checks and
// the connections it owns.
type Server struct {
	Handler http.Handler
	Health  *health.Health

	closers []func()
}

// Close releases connections in reverse order of creation.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// NewServer connects to storage, runs migrations and builds the handler. The
// logger is taken from ctx.
func NewServer(ctx context.Context, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) (_ *Server, rerr error) {
	lg := zctx.From(ctx)
	s := &Server{}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	flatShipping, err := decimal.NewFromString(cfg.Checkout.FlatShipping)
	if err != nil {
		return nil, errors.Wrap(err, "parse flat shipping")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	s.closers = append(s.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	rdb, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "create redis client")
	}
	s.closers = append(s.closers, func() { _ = rdb.Close() })

	// Health check service.
	s.Health = health.New()
	s.Health.AddReadinessCheck("postgres", health.PingCheck(pool), health.Options{})
	s.Health.AddReadinessCheck("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}, health.Options{})
	s.Health.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000), health.Options{Timeout: time.Second})

	// Order events.
	var publisher checkout.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		w := events.NewWriter(cfg.Kafka.Brokers)
		s.closers = append(s.closers, func() {
			if err := w.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		})
		publisher = events.NewPublisher(w, cfg.Kafka.Topic, cfg.Kafka.WriteTimeout)
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := events.BrokerCheck(cfg.Kafka.Brokers)(dialCtx); err != nil {
			lg.Warn("Kafka brokers unreachable at startup", zap.Error(err))
		}
		cancel()
		lg.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	storeRepo := postgres.NewStoreRepository(pool)

	// Payment adapters. COD is always available.
	gatewayHTTP := &http.Client{
		Timeout:   cfg.Checkout.GatewayTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp)),
	}
	deps := checkout.Deps{
		Users:          userRepo,
		Coupons:        coupon.NewPolicy(couponRepo, orderRepo),
		Builder:        order.NewBuilder(productRepo, flatShipping),
		Orders:         orderRepo,
		Carts:          redis.NewCartStore(rdb),
		Idempotency:    redis.NewIdempotencyStore(rdb, "bazaar:idem:"),
		Events:         publisher,
		Adapters:       []payment.Adapter{payment.COD{}},
		TracerProvider: tp,
		MeterProvider:  mp,
	}
	if cfg.Razorpay.KeyID != "" {
		rzp := payment.NewRazorpay(
			razorpay.New(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret,
				razorpay.WithBaseURL(cfg.Razorpay.BaseURL),
				razorpay.WithHTTPClient(gatewayHTTP),
			),
			cfg.Razorpay.KeySecret,
		)
		deps.Adapters = append(deps.Adapters, rzp)
		deps.Razorpay = rzp
	}
	if cfg.Stripe.SecretKey != "" {
		st := payment.NewStripe(stripe.New(stripe.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.Stripe.SuccessURL,
			CancelURL:     cfg.Stripe.CancelURL,
		}), cfg.Stripe.AppID)
		deps.Adapters = append(deps.Adapters, st)
		deps.Stripe = st
	}
	methods := make([]string, 0, len(deps.Adapters))
	for _, a := range deps.Adapters {
		methods = append(methods, string(a.Method()))
	}
	lg.Info("Payment methods enabled", zap.Strings("methods", methods))

	// Domain services.
	checkoutSvc, err := checkout.NewService(deps, checkout.Config{
		Currency:       cfg.Checkout.Currency,
		StoreTimeout:   cfg.Checkout.StoreTimeout,
		GatewayTimeout: cfg.Checkout.GatewayTimeout,
		IdempotencyTTL: cfg.Checkout.IdempotencyTTL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout service")
	}
	fulfilmentSvc := fulfilment.NewService(orderRepo, storeRepo, auth.NewEmailPolicy(cfg.Auth.MasterVendors))

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", s.Health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", s.Health.ReadyEndpoint)
	handler.New(checkoutSvc, fulfilmentSvc, auth.NewTokenVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)).Register(mux)

	s.Handler = otelhttp.NewHandler(
		httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins: cfg.CORS.Origins,
				MaxAge:  cfg.CORS.MaxAge,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Limiter: redis.NewRateLimiter(rdb, "bazaar:rl:", cfg.RateLimit.Max, cfg.RateLimit.Window),
				Skip:    exemptFromRateLimit,
			}),
			httpmiddleware.LogRequests(),
		),
		"bazaar-api",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithMeterProvider(mp),
	)
	return s, nil
}

// exemptFromRateLimit skips probes and Stripe webhook deliveries.
func exemptFromRateLimit(r *http.Request) bool {
	switch r.URL.Path {
	case "/livez", "/readyz":
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/payments/stripe/")
}
