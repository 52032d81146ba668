package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ServiceBus ServiceBusConfig
	NewRelic   NewRelicConfig
	Elastic    ElasticConfig
	SMTP       SMTPConfig
	SMS        SMSConfig
	Device     DeviceConfig
	RateLimit  RateLimitConfig
	Alerting   AlertingConfig
	Pricing    PricingConfig
	Shift      ShiftConfig
	Commands   CommandConfig
	Log        LogConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port         int
	Mode         string // debug, release, test
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string // silent, error, warn, info
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string
	QueueName        string
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// ElasticConfig holds the Elasticsearch projection configuration
type ElasticConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

// LogConfig controls the logrus logger
type LogConfig struct {
	Level  string
	Format string // text, json
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/oilfleet")
		viper.SetConfigName("config")
	}

	// OILFLEET_SERVER_PORT overrides server.port
	viper.SetEnvPrefix("OILFLEET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.readtimeout", 15*time.Second)
	viper.SetDefault("server.writetimeout", 15*time.Second)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "oilfleet")
	viper.SetDefault("database.password", "oilfleet")
	viper.SetDefault("database.dbname", "oilfleet")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxopenconns", 100)
	viper.SetDefault("database.maxidleconns", 20)
	viper.SetDefault("database.connmaxlifetime", 30*time.Minute)
	viper.SetDefault("database.loglevel", "warn")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// No default connection string, the mock client is used locally
	viper.SetDefault("servicebus.queuename", "oilfleet-events")

	viper.SetDefault("newrelic.appname", "Oil Fleet Ingest Local")
	viper.SetDefault("newrelic.enabled", false)

	viper.SetDefault("elastic.enabled", false)
	viper.SetDefault("elastic.url", "http://localhost:9200")
	viper.SetDefault("elastic.index", "dispense-transactions")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	setDomainDefaults()
}

// Load loads the configuration
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetInt("server.port"),
			Mode:         viper.GetString("server.mode"),
			ReadTimeout:  viper.GetDuration("server.readtimeout"),
			WriteTimeout: viper.GetDuration("server.writetimeout"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetInt("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			DBName:          viper.GetString("database.dbname"),
			SSLMode:         viper.GetString("database.sslmode"),
			MaxOpenConns:    viper.GetInt("database.maxopenconns"),
			MaxIdleConns:    viper.GetInt("database.maxidleconns"),
			ConnMaxLifetime: viper.GetDuration("database.connmaxlifetime"),
			LogLevel:        viper.GetString("database.loglevel"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		ServiceBus: ServiceBusConfig{
			ConnectionString: viper.GetString("servicebus.connectionstring"),
			QueueName:        viper.GetString("servicebus.queuename"),
		},
		NewRelic: NewRelicConfig{
			AppName:    viper.GetString("newrelic.appname"),
			LicenseKey: viper.GetString("newrelic.licensekey"),
			Enabled:    viper.GetBool("newrelic.enabled"),
		},
		Elastic: ElasticConfig{
			Enabled:  viper.GetBool("elastic.enabled"),
			URL:      viper.GetString("elastic.url"),
			Username: viper.GetString("elastic.username"),
			Password: viper.GetString("elastic.password"),
			Index:    viper.GetString("elastic.index"),
		},
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}

	loadDomain(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
