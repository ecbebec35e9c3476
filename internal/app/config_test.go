package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	t.Run("fills empty values", func(t *testing.T) {
		cfg := Config{Addr: defaultAddr}
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
		assert.Equal(t, "redis://platform:6379/0", cfg.RedisURL)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		cfg := Config{
			Addr:        "127.0.0.1:8081",
			DatabaseURL: "postgres://explicit/db",
			RedisURL:    "redis://explicit:6379/1",
		}
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
		assert.Equal(t, "redis://explicit:6379/1", cfg.RedisURL)
		assert.Equal(t, "127.0.0.1:8081", cfg.Addr)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://localhost/db",
			Coupon:      CouponConfig{MinCodeLength: 4, GeneratedCodeLength: 8},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing database",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name:    "negative min length",
			mutate:  func(c *Config) { c.Coupon.MinCodeLength = -1 },
			wantErr: "must not be negative",
		},
		{
			name:    "negative coupon rate limit",
			mutate:  func(c *Config) { c.RateLimit.CouponMax = -1 },
			wantErr: "coupon rate limit must not be negative",
		},
		{
			name:    "coupon rate limit without window",
			mutate:  func(c *Config) { c.RateLimit.CouponMax = 10 },
			wantErr: "window must be positive",
		},
		{
			name: "coupon rate limit",
			mutate: func(c *Config) {
				c.RateLimit.CouponMax = 10
				c.RateLimit.CouponWindow = time.Minute
			},
		},
		{
			name:    "generated shorter than minimum",
			mutate:  func(c *Config) { c.Coupon.GeneratedCodeLength = 3 },
			wantErr: "shorter than the minimum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
