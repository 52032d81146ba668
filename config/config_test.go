package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, InitConfig(""))
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "OIL", cfg.Device.IDPrefix)
	assert.Equal(t, 12, cfg.Device.BcryptCost)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Telemetry)
	assert.Equal(t, 30*time.Minute, cfg.Alerting.DedupeWindow)
	assert.Equal(t, 45.0, cfg.Pricing.DefaultPricePerLiter)
	assert.Equal(t, "ZMW", cfg.Pricing.Currency)
	assert.Equal(t, "Africa/Lusaka", cfg.Shift.Timezone)
	assert.Equal(t, 5*time.Minute, cfg.Commands.TTL)
	assert.Equal(t, time.Minute, cfg.Commands.RedeliverAfter)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OILFLEET_SERVER_PORT", "9090")
	t.Setenv("OILFLEET_PRICING_CURRENCY", "USD")
	t.Setenv("OILFLEET_ALERTING_DEDUPEWINDOW", "5m")

	cfg := load(t)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Pricing.Currency)
	assert.Equal(t, 5*time.Minute, cfg.Alerting.DedupeWindow)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Device:    DeviceConfig{BcryptCost: 10, AllocationRetries: 3},
			RateLimit: RateLimitConfig{Backend: "memory"},
			Alerting:  AlertingConfig{DedupeBackend: "memory", DedupeWindow: time.Minute},
			Commands:  CommandConfig{TTL: time.Minute},
			Shift:     ShiftConfig{Timezone: "Africa/Lusaka"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"weak bcrypt cost", func(c *Config) { c.Device.BcryptCost = 4 }},
		{"no allocation retries", func(c *Config) { c.Device.AllocationRetries = 0 }},
		{"unknown limiter backend", func(c *Config) { c.RateLimit.Backend = "etcd" }},
		{"unknown dedupe backend", func(c *Config) { c.Alerting.DedupeBackend = "disk" }},
		{"redis limiter without redis", func(c *Config) { c.RateLimit.Backend = "redis" }},
		{"redis dedupe without redis", func(c *Config) { c.Alerting.DedupeBackend = "redis" }},
		{"zero dedupe window", func(c *Config) { c.Alerting.DedupeWindow = 0 }},
		{"zero command ttl", func(c *Config) { c.Commands.TTL = 0 }},
		{"negative redelivery", func(c *Config) { c.Commands.RedeliverAfter = -time.Second }},
		{"bad timezone", func(c *Config) { c.Shift.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("redis backends with redis enabled", func(t *testing.T) {
		c := valid()
		c.Redis.Enabled = true
		c.RateLimit.Backend = "redis"
		c.Alerting.DedupeBackend = "redis"
		assert.NoError(t, c.Validate())
	})
}

func TestShiftLocation_EmptyIsUTC(t *testing.T) {
	loc, err := ShiftConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}
