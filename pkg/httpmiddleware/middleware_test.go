package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))

	for _, bad := range []string{"", strings.Repeat("x", 129), "bad\nid"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, bad)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Len(t, seen, 36, "generated uuid for %q", bad)
		assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
	}
}

func TestLoggingChain(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stores/{storeId}/orders", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("In handler")
		w.WriteHeader(http.StatusTeapot)
	})
	h := Wrap(mux, RequestID(), InjectLogger(zap.New(core)), LogRequests())

	req := httptest.NewRequest(http.MethodGet, "/api/stores/s1/orders", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "In handler", entries[0].Message)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])

	fields := entries[1].ContextMap()
	assert.Equal(t, "GET /api/stores/{storeId}/orders", fields["route"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestRecovery(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":500,"message":"internal server error","kind":"internal"}`, w.Body.String())
}

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{Origins: []string{"https://shop.example.com"}, MaxAge: 600})(okHandler())

	preflight := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	preflight.Header.Set("Origin", "https://Shop.example.com")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, preflight)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://Shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	h = CORS(CORSConfig{})(okHandler())
	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Origin", "https://any.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
