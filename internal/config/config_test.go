package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://agriconnect:pw@localhost:5432/agriconnect?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 24*time.Hour, cfg.Identity.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.Admission.CheckTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("FEED_MIN_BACKOFF", "2")
	t.Setenv("FEED_MAX_BACKOFF", "1m")
	t.Setenv("GEOCODER_RATE_LIMIT", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 2*time.Second, cfg.Feed.MinBackoff)
	assert.Equal(t, time.Minute, cfg.Feed.MaxBackoff)
	assert.Equal(t, 0.5, cfg.Geocoder.RateLimit)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"production without secret", func(c *Config) { c.Environment = "production"; c.JWT.Secret = "" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"short passwords", func(c *Config) { c.Identity.MinPasswordLength = 4 }},
		{"inverted backoff", func(c *Config) { c.Feed.MaxBackoff = c.Feed.MinBackoff / 2 }},
		{"payments without url", func(c *Config) { c.Payment.Enabled = true; c.Payment.BaseURL = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Storage:  StorageConfig{Driver: DriverMemory},
				Identity: IdentityConfig{MinPasswordLength: 6},
				Feed:     FeedConfig{MinBackoff: time.Second, MaxBackoff: time.Minute},
			}
			require.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
