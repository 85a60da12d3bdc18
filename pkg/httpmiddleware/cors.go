package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS for the storefront origins.
type CORSConfig struct {
	// Origins lists allowed origins. Empty or "*" allows any origin.
	Origins []string
	// MaxAge caches preflight results, in seconds. Zero omits the header.
	MaxAge int
}

const (
	corsMethods = "GET, POST, PATCH, OPTIONS"
	corsHeaders = "Authorization, Content-Type, " + HeaderRequestID
	corsExpose  = HeaderRequestID + ", Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset"
)

// CORS answers preflight requests and annotates responses to allowed origins.
// Credentials are bearer tokens, so cookies are never allowed.
func CORS(cfg CORSConfig) Middleware {
	anyOrigin := len(cfg.Origins) == 0
	allowed := make(map[string]struct{}, len(cfg.Origins))
	for _, o := range cfg.Origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if !anyOrigin {
				h.Add("Vary", "Origin")
			}
			origin := r.Header.Get("Origin")
			ok := origin != ""
			if ok && !anyOrigin {
				_, ok = allowed[strings.ToLower(origin)]
			}
			allowOrigin := origin
			if anyOrigin {
				allowOrigin = "*"
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				if ok {
					h.Set("Access-Control-Allow-Origin", allowOrigin)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					if maxAge != "" {
						h.Set("Access-Control-Max-Age", maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if ok {
				h.Set("Access-Control-Allow-Origin", allowOrigin)
				h.Set("Access-Control-Expose-Headers", corsExpose)
			}
			next.ServeHTTP(w, r)
		})
	}
}
