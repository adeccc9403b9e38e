package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for cart persistence; empty keeps carts in memory (STORE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	OrderAPIURL  string `usage:"Base URL of the upstream order API" flag:"order-api-url"`
	AuthSecret   string `usage:"HS256 secret for session token verification" flag:"auth-secret"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com)" flag:"image-base-url"`

	Checkout  CheckoutConfig
	Session   SessionConfig
	Catalog   CatalogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// CheckoutConfig controls checkout flow behaviour.
type CheckoutConfig struct {
	PaymentMethod string        `default:"Cash on delivery" usage:"Fixed payment method echoed into orders" flag:"payment-method"`
	SubmitTimeout time.Duration `default:"15s" usage:"Order submission deadline" flag:"submit-timeout"`
	GraceDelay    time.Duration `default:"2s"  usage:"Delay before post-confirmation navigation signal" flag:"grace-delay"`
}

// SessionConfig controls session lifecycle and cart persistence.
type SessionConfig struct {
	IdleTimeout     time.Duration `default:"30m"  usage:"Idle duration before a live session is evicted" flag:"session-idle-timeout"`
	JanitorInterval time.Duration `default:"5m"   usage:"How often idle sessions are swept" flag:"session-janitor-interval"`
	CartTTL         time.Duration `default:"720h" usage:"Persisted cart expiry" flag:"cart-ttl"`
}

// CatalogConfig controls the product catalog read cache.
type CatalogConfig struct {
	CacheTTL time.Duration `default:"30s" usage:"Catalog listing cache TTL; 0 disables" flag:"catalog-cache-ttl"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
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
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if cfg.OrderAPIURL == "" {
		return nil, errors.New("order API URL is required: set STORE_ORDER_API_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
