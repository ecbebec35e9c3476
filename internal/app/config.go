package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (DISCOUNTS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (DISCOUNTS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for the rule cache (DISCOUNTS_REDIS_URL or REDIS_URL); empty disables caching" flag:"redis-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	MaxBodyBytes int64  `default:"1048576" usage:"Maximum request body size" flag:"max-body-bytes"`
	RateLimit    RateLimitConfig
	RuleCache    RuleCacheConfig
	Coupon       CouponConfig
	Graceful     GracefulConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
// Coupon validation has its own, stricter budget against code guessing.
type RateLimitConfig struct {
	Max          int           `default:"100" usage:"Max requests per window"`
	Window       time.Duration `default:"1m"  usage:"Rate limit window duration"`
	CouponMax    int           `default:"10"  usage:"Max coupon validations per window; zero disables the coupon limit"`
	CouponWindow time.Duration `default:"1m"  usage:"Coupon validation rate limit window"`
}

// RuleCacheConfig controls the Redis snapshot of active discount rules.
type RuleCacheConfig struct {
	TTL time.Duration `default:"30s" usage:"Lifetime of the cached active rule snapshot; zero disables caching" flag:"rule-cache-ttl"`
}

// CouponConfig controls coupon code validation and generation.
type CouponConfig struct {
	MinCodeLength       int `default:"4" usage:"Coupon rules with shorter codes are refused" flag:"coupon-min-length"`
	GeneratedCodeLength int `default:"8" usage:"Length of generated coupon codes, prefix excluded" flag:"coupon-length"`
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
		EnvPrefix: "DISCOUNTS",
		Files:     []string{"config.yaml", "/etc/discounts/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set DISCOUNTS_DATABASE_URL or DATABASE_URL")
	}
	if c.RateLimit.CouponMax < 0 {
		return errors.Errorf("coupon rate limit must not be negative, got %d", c.RateLimit.CouponMax)
	}
	if c.RateLimit.CouponMax > 0 && c.RateLimit.CouponWindow <= 0 {
		return errors.New("coupon rate limit window must be positive")
	}
	if c.Coupon.MinCodeLength < 0 {
		return errors.Errorf("coupon min length must not be negative, got %d", c.Coupon.MinCodeLength)
	}
	if c.Coupon.GeneratedCodeLength < c.Coupon.MinCodeLength {
		return errors.Errorf("generated coupon length %d is shorter than the minimum %d",
			c.Coupon.GeneratedCodeLength, c.Coupon.MinCodeLength)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's DISCOUNTS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
