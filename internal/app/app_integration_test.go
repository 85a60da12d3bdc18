//go:build integration

package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/domain/store"
	"github.com/xenking/bazaar/internal/domain/user"
	"github.com/xenking/bazaar/internal/storage/postgres"
)

const testSecret = "integration-secret"

type testEnv struct {
	url    string
	tokens *auth.TokenVerifier
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := zctx.Base(context.Background(), zaptest.NewLogger(t))

	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bazaar"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rc, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })
	redisURL, err := rc.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &Config{
		DatabaseURL: dsn,
		RedisURL:    redisURL,
		Checkout: CheckoutConfig{
			FlatShipping:   "50",
			Currency:       "INR",
			StoreTimeout:   5 * time.Second,
			GatewayTimeout: 5 * time.Second,
			IdempotencyTTL: time.Hour,
		},
		Auth:      AuthConfig{JWTSecret: testSecret, Issuer: "bazaar"},
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}, MaxAge: 600},
	}
	srv, err := NewServer(ctx, cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	// NewServer has migrated the schema.
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	seedCatalog(t, ctx, pool)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{url: ts.URL, tokens: auth.NewTokenVerifier([]byte(testSecret), "bazaar")}
}

func seedCatalog(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	users := postgres.NewUserRepository(pool)
	require.NoError(t, users.Ensure(ctx, user.User{ID: "seller-1", Email: "seller@example.com"}))

	stores := postgres.NewStoreRepository(pool)
	require.NoError(t, stores.Upsert(ctx, &store.Store{ID: "S1", UserID: "seller-1", Name: "Spice Co", Active: true}))
	require.NoError(t, stores.Upsert(ctx, &store.Store{ID: "S2", UserID: "seller-1", Name: "Bakery", Active: true}))

	products := postgres.NewProductRepository(pool)
	require.NoError(t, products.Upsert(ctx, &product.Product{
		ID: "A", StoreID: "S1", Name: "Saffron", Price: decimal.NewFromInt(100), GST: decimal.NewFromInt(18),
	}))
	require.NoError(t, products.Upsert(ctx, &product.Product{
		ID: "B", StoreID: "S2", Name: "Bread", Price: decimal.NewFromInt(200), GST: decimal.Zero,
	}))
}

func (e *testEnv) do(t *testing.T, method, path string, id auth.Identity, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, e.url+path, strings.NewReader(body))
	require.NoError(t, err)
	if id.UserID != "" {
		token, err := e.tokens.Sign(id, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type orderView struct {
	ID      string  `json:"id"`
	StoreID string  `json:"storeId"`
	Total   float64 `json:"total"`
	Status  string  `json:"status"`
	IsPaid  bool    `json:"isPaid"`
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestIntegration_CheckoutToDelivery(t *testing.T) {
	env := setupEnv(t)
	buyer := auth.Identity{UserID: "buyer-1", Email: "buyer@example.com", Name: "Asha"}
	seller := auth.Identity{UserID: "seller-1", Email: "seller@example.com"}

	resp := env.do(t, http.MethodGet, "/livez", auth.Identity{}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = env.do(t, http.MethodPost, "/api/orders", buyer, `{
		"addressId": "addr-1",
		"paymentMethod": "COD",
		"items": [{"id": "A", "quantity": 2}, {"id": "B", "quantity": 1}]
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))

	placed := decode[struct {
		State         string            `json:"state"`
		OrderIDs      []string          `json:"orderIds"`
		OrdersByStore map[string]string `json:"ordersByStore"`
		Total         float64           `json:"total"`
	}](t, resp)
	assert.Equal(t, "COMPLETED", placed.State)
	require.Len(t, placed.OrderIDs, 2)
	require.Contains(t, placed.OrdersByStore, "S1")
	// 2*100 + 18% GST + 50 shipping, plus 200 of untaxed bread.
	assert.InDelta(t, 486.0, placed.Total, 0.001)

	resp = env.do(t, http.MethodGet, "/api/orders", buyer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[struct {
		Orders []orderView `json:"orders"`
	}](t, resp)
	assert.Len(t, history.Orders, 2)

	resp = env.do(t, http.MethodGet, "/api/stores/S1/orders", buyer, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/stores/S1/orders", seller, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	storeOrders := decode[struct {
		Orders []orderView `json:"orders"`
	}](t, resp)
	require.Len(t, storeOrders.Orders, 1)
	orderID := storeOrders.Orders[0].ID
	assert.Equal(t, placed.OrdersByStore["S1"], orderID)

	for _, status := range []string{"PROCESSING", "SHIPPED", "DELIVERED"} {
		resp = env.do(t, http.MethodPatch, "/api/orders/"+orderID+"/status", seller, `{"status":"`+status+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, status)
	}
	delivered := decode[orderView](t, resp)
	assert.Equal(t, "DELIVERED", delivered.Status)
	assert.True(t, delivered.IsPaid)

	resp = env.do(t, http.MethodPatch, "/api/orders/"+orderID+"/status", seller, `{"status":"SHIPPED"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegration_RejectsUnauthenticated(t *testing.T) {
	env := setupEnv(t)

	resp := env.do(t, http.MethodGet, "/api/orders", auth.Identity{}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/payments/razorpay/order", auth.Identity{UserID: "buyer-1"},
		`{"addressId":"a","items":[{"id":"A","quantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "razorpay is not configured")
}
