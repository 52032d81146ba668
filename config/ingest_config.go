package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SMTPConfig holds the outbound email settings. An empty host disables delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMSConfig holds the HTTP SMS gateway settings. An empty URL disables delivery.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	Sender     string
	Timeout    time.Duration
}

// DeviceConfig controls device provisioning and credential checks
type DeviceConfig struct {
	IDPrefix          string
	BcryptCost        int
	CacheTTL          time.Duration
	AllocationRetries int
}

// RateLimitConfig holds per-operation minimum intervals between device calls
type RateLimitConfig struct {
	Backend      string // memory, redis
	Telemetry    time.Duration
	Event        time.Duration
	Receipt      time.Duration
	Heartbeat    time.Duration
	CommandPull  time.Duration
	CommandAck   time.Duration
	PinVerify    time.Duration
	OperatorSync time.Duration
}

// AlertingConfig controls notification dedupe and liveness detection
type AlertingConfig struct {
	DedupeBackend        string // memory, redis
	DedupeWindow         time.Duration
	SweepInterval        time.Duration
	OfflineAfter         time.Duration
	OfflineCheckInterval time.Duration
}

// PricingConfig is the fallback price used when no price row applies
type PricingConfig struct {
	DefaultPricePerLiter float64
	DefaultCostPerLiter  float64
	Currency             string
}

// ShiftConfig controls how transactions are bucketed into shift days
type ShiftConfig struct {
	Timezone string
}

// CommandConfig controls the command relay
type CommandConfig struct {
	TTL                 time.Duration
	ExpirySweepInterval time.Duration
	// RedeliverAfter is how long a SENT command waits for its ack before a
	// pull serves it again. Zero disables redelivery.
	RedeliverAfter time.Duration
}

func setDomainDefaults() {
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.from", "alerts@oilfleet.local")

	viper.SetDefault("sms.timeout", 10*time.Second)
	viper.SetDefault("sms.sender", "OILFLEET")

	viper.SetDefault("device.idprefix", "OIL")
	viper.SetDefault("device.bcryptcost", 12)
	viper.SetDefault("device.cachettl", time.Minute)
	viper.SetDefault("device.allocationretries", 5)

	viper.SetDefault("ratelimit.backend", "memory")
	viper.SetDefault("ratelimit.telemetry", 2*time.Second)
	viper.SetDefault("ratelimit.event", 500*time.Millisecond)
	viper.SetDefault("ratelimit.receipt", 250*time.Millisecond)
	viper.SetDefault("ratelimit.heartbeat", 5*time.Second)
	viper.SetDefault("ratelimit.commandpull", time.Second)
	viper.SetDefault("ratelimit.commandack", 250*time.Millisecond)
	viper.SetDefault("ratelimit.pinverify", 500*time.Millisecond)
	viper.SetDefault("ratelimit.operatorsync", 5*time.Second)

	viper.SetDefault("alerting.dedupebackend", "memory")
	viper.SetDefault("alerting.dedupewindow", 30*time.Minute)
	viper.SetDefault("alerting.sweepinterval", 5*time.Minute)
	viper.SetDefault("alerting.offlineafter", 10*time.Minute)
	viper.SetDefault("alerting.offlinecheckinterval", time.Minute)

	viper.SetDefault("pricing.defaultpriceperliter", 45.0)
	viper.SetDefault("pricing.defaultcostperliter", 0.0)
	viper.SetDefault("pricing.currency", "ZMW")

	viper.SetDefault("shift.timezone", "Africa/Lusaka")

	viper.SetDefault("commands.ttl", 5*time.Minute)
	viper.SetDefault("commands.expirysweepinterval", time.Minute)
	viper.SetDefault("commands.redeliverafter", time.Minute)
}

func loadDomain(cfg *Config) {
	cfg.SMTP = SMTPConfig{
		Host:     viper.GetString("smtp.host"),
		Port:     viper.GetInt("smtp.port"),
		Username: viper.GetString("smtp.username"),
		Password: viper.GetString("smtp.password"),
		From:     viper.GetString("smtp.from"),
	}
	cfg.SMS = SMSConfig{
		GatewayURL: viper.GetString("sms.gatewayurl"),
		APIKey:     viper.GetString("sms.apikey"),
		Sender:     viper.GetString("sms.sender"),
		Timeout:    viper.GetDuration("sms.timeout"),
	}
	cfg.Device = DeviceConfig{
		IDPrefix:          viper.GetString("device.idprefix"),
		BcryptCost:        viper.GetInt("device.bcryptcost"),
		CacheTTL:          viper.GetDuration("device.cachettl"),
		AllocationRetries: viper.GetInt("device.allocationretries"),
	}
	cfg.RateLimit = RateLimitConfig{
		Backend:      viper.GetString("ratelimit.backend"),
		Telemetry:    viper.GetDuration("ratelimit.telemetry"),
		Event:        viper.GetDuration("ratelimit.event"),
		Receipt:      viper.GetDuration("ratelimit.receipt"),
		Heartbeat:    viper.GetDuration("ratelimit.heartbeat"),
		CommandPull:  viper.GetDuration("ratelimit.commandpull"),
		CommandAck:   viper.GetDuration("ratelimit.commandack"),
		PinVerify:    viper.GetDuration("ratelimit.pinverify"),
		OperatorSync: viper.GetDuration("ratelimit.operatorsync"),
	}
	cfg.Alerting = AlertingConfig{
		DedupeBackend:        viper.GetString("alerting.dedupebackend"),
		DedupeWindow:         viper.GetDuration("alerting.dedupewindow"),
		SweepInterval:        viper.GetDuration("alerting.sweepinterval"),
		OfflineAfter:         viper.GetDuration("alerting.offlineafter"),
		OfflineCheckInterval: viper.GetDuration("alerting.offlinecheckinterval"),
	}
	cfg.Pricing = PricingConfig{
		DefaultPricePerLiter: viper.GetFloat64("pricing.defaultpriceperliter"),
		DefaultCostPerLiter:  viper.GetFloat64("pricing.defaultcostperliter"),
		Currency:             viper.GetString("pricing.currency"),
	}
	cfg.Shift = ShiftConfig{
		Timezone: viper.GetString("shift.timezone"),
	}
	cfg.Commands = CommandConfig{
		TTL:                 viper.GetDuration("commands.ttl"),
		ExpirySweepInterval: viper.GetDuration("commands.expirysweepinterval"),
		RedeliverAfter:      viper.GetDuration("commands.redeliverafter"),
	}
}

// Validate checks settings that would otherwise fail deep inside a request
func (c *Config) Validate() error {
	if c.Device.BcryptCost < 10 {
		return fmt.Errorf("device.bcryptcost must be at least 10, got %d", c.Device.BcryptCost)
	}
	if c.Device.AllocationRetries < 1 {
		return fmt.Errorf("device.allocationretries must be positive")
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown ratelimit.backend %q", c.RateLimit.Backend)
	}
	switch c.Alerting.DedupeBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown alerting.dedupebackend %q", c.Alerting.DedupeBackend)
	}
	if (c.RateLimit.Backend == "redis" || c.Alerting.DedupeBackend == "redis") && !c.Redis.Enabled {
		return fmt.Errorf("redis backends require redis.enabled")
	}
	if c.Alerting.DedupeWindow <= 0 {
		return fmt.Errorf("alerting.dedupewindow must be positive")
	}
	if c.Commands.TTL <= 0 {
		return fmt.Errorf("commands.ttl must be positive")
	}
	if c.Commands.RedeliverAfter < 0 {
		return fmt.Errorf("commands.redeliverafter must not be negative")
	}
	if _, err := c.Shift.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured shift timezone
func (s ShiftConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid shift.timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}
