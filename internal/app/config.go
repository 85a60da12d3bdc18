package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis URL for carts, idempotency keys and rate limits (KART_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Checkout    CheckoutConfig
	Auth        AuthConfig
	Razorpay    RazorpayConfig
	Stripe      StripeConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CheckoutConfig controls pricing and collaborator timeouts.
type CheckoutConfig struct {
	FlatShipping   string        `default:"50" usage:"Shipping charged once on the order of the first store seen" flag:"flat-shipping"`
	Currency       string        `default:"INR" usage:"ISO currency code sent to payment gateways"`
	StoreTimeout   time.Duration `default:"5s" usage:"Timeout of a single storage call" flag:"store-timeout"`
	GatewayTimeout time.Duration `default:"10s" usage:"Timeout of a payment gateway call" flag:"gateway-timeout"`
	IdempotencyTTL time.Duration `default:"72h" usage:"How long processed webhook events are remembered" flag:"idempotency-ttl"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret     string   `usage:"HS256 secret for buyer and vendor tokens (KART_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	Issuer        string   `default:"bazaar" usage:"Expected token issuer"`
	MasterVendors []string `usage:"Emails allowed to manage every store's orders" flag:"master-vendors"`
}

// RazorpayConfig enables the RAZORPAY payment method when KeyID is set.
type RazorpayConfig struct {
	KeyID     string `usage:"Razorpay key id" flag:"razorpay-key-id"`
	KeySecret string `usage:"Razorpay key secret, also used to verify payment signatures" flag:"razorpay-key-secret"`
	BaseURL   string `default:"https://api.razorpay.com" usage:"Razorpay API endpoint" flag:"razorpay-base-url"`
}

// StripeConfig enables the STRIPE payment method when SecretKey is set.
type StripeConfig struct {
	SecretKey     string `usage:"Stripe secret key" flag:"stripe-secret-key"`
	WebhookSecret string `usage:"Stripe webhook signing secret" flag:"stripe-webhook-secret"`
	SuccessURL    string `usage:"Redirect after a successful Stripe checkout" flag:"stripe-success-url"`
	CancelURL     string `usage:"Redirect after a cancelled Stripe checkout" flag:"stripe-cancel-url"`
	AppID         string `default:"bazaar" usage:"Tag written to session metadata; events with another tag are ignored" flag:"stripe-app-id"`
}

// KafkaConfig enables order events when Brokers is set.
type KafkaConfig struct {
	Brokers      []string      `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic        string        `default:"bazaar.orders" usage:"Topic for order events" flag:"kafka-topic"`
	WriteTimeout time.Duration `default:"5s" usage:"Timeout of a single publish" flag:"kafka-write-timeout"`
}

// RateLimitConfig controls the per-client rate limiter. Counters live in
// Redis so that every replica shares them.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
	MaxAge  int      `default:"86400" usage:"Preflight cache duration in seconds" flag:"cors-max-age"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/bazaar/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing settings the server cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	case c.RedisURL == "":
		return errors.New("redis URL is required: set KART_REDIS_URL or REDIS_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("token secret is required: set KART_AUTH_JWT_SECRET")
	case c.Razorpay.KeyID != "" && c.Razorpay.KeySecret == "":
		return errors.New("razorpay key secret is required when a key id is set")
	case c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "":
		return errors.New("stripe webhook secret is required when a secret key is set")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}
}
