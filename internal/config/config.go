// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Solana    SolanaConfig    `mapstructure:"solana"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Notify    NotifyConfig    `mapstructure:"notification"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// SolanaConfig contains Solana RPC connection configuration
type SolanaConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	BackupURLs        []string      `mapstructure:"backup_urls"`
	Commitment        string        `mapstructure:"commitment"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// FetcherConfig controls signature pagination and transaction retries
type FetcherConfig struct {
	PageLimit      int           `mapstructure:"page_limit"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
	TxAttempts     int           `mapstructure:"tx_attempts"`
	TxRetryDelay   time.Duration `mapstructure:"tx_retry_delay"`
}

// PricingConfig contains price oracle configuration
type PricingConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// ScannerConfig contains scan batching and serialization settings
type ScannerConfig struct {
	BatchSize             int           `mapstructure:"batch_size"`
	BatchDelay            time.Duration `mapstructure:"batch_delay"`
	Workers               int           `mapstructure:"workers"`
	MaxConcurrentDrawings int           `mapstructure:"max_concurrent_drawings"`
	LockTTL               time.Duration `mapstructure:"lock_ttl"`
}

// SchedulerConfig contains periodic scan configuration
type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Cron       string        `mapstructure:"cron"`
	RunOnStart bool          `mapstructure:"run_on_start"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// NotifyConfig contains webhook notification configuration
type NotifyConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	WebhookURL  string            `mapstructure:"webhook_url"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	MaxAttempts int               `mapstructure:"max_attempts"`
	RetryDelay  time.Duration     `mapstructure:"retry_delay"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from dotenv files, the config file and environment variables
func Load(configPath string) (*Config, error) {
	loadEnv(configPath)

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("DRAW_SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Conventional variable names win over the prefixed ones
	if rpcURL := os.Getenv("SOLANA_RPC_URL"); rpcURL != "" {
		config.Solana.RPCURL = rpcURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// loadEnv loads .env files next to the config file and in the working directory
func loadEnv(configPath string) {
	candidates := []string{".env", ".env.local"}
	if configPath != "" {
		dir := filepath.Dir(configPath)
		candidates = append(candidates, filepath.Join(dir, ".env"), filepath.Join(dir, ".env.local"))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			_ = godotenv.Load(candidate)
		}
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "draw-scanner")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Solana defaults
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.backup_urls", []string{})
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.request_timeout", "30s")
	v.SetDefault("solana.requests_per_second", 10.0)
	v.SetDefault("solana.burst", 5)

	// Fetcher defaults
	v.SetDefault("fetcher.page_limit", 50)
	v.SetDefault("fetcher.max_attempts", 3)
	v.SetDefault("fetcher.initial_backoff", "2s")
	v.SetDefault("fetcher.max_backoff", "30s")
	v.SetDefault("fetcher.page_delay", "500ms")
	v.SetDefault("fetcher.tx_attempts", 2)
	v.SetDefault("fetcher.tx_retry_delay", "1s")

	// Pricing defaults
	v.SetDefault("pricing.base_url", "https://api.dexscreener.com")
	v.SetDefault("pricing.timeout", "10s")
	v.SetDefault("pricing.max_attempts", 3)

	// Scanner defaults
	v.SetDefault("scanner.batch_size", 10)
	v.SetDefault("scanner.batch_delay", "500ms")
	v.SetDefault("scanner.workers", 4)
	v.SetDefault("scanner.max_concurrent_drawings", 4)
	v.SetDefault("scanner.lock_ttl", "10m")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "*/2 * * * *")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.timeout", "10m")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/draws.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	// Notification defaults
	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("notification.max_attempts", 3)
	v.SetDefault("notification.retry_delay", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("solana RPC URL is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	switch strings.ToLower(c.Storage.Type) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Fetcher.PageLimit <= 0 || c.Fetcher.PageLimit > 1000 {
		return fmt.Errorf("fetcher page limit must be between 1 and 1000")
	}
	if c.Fetcher.MaxAttempts <= 0 || c.Fetcher.TxAttempts <= 0 {
		return fmt.Errorf("fetcher attempts must be positive")
	}
	if c.Pricing.BaseURL == "" {
		return fmt.Errorf("pricing base URL is required")
	}
	if c.Scanner.BatchSize <= 0 {
		return fmt.Errorf("scanner batch size must be positive")
	}
	if c.Scanner.Workers <= 0 || c.Scanner.MaxConcurrentDrawings <= 0 {
		return fmt.Errorf("scanner concurrency must be positive")
	}
	if c.Scanner.LockTTL <= 0 {
		return fmt.Errorf("scanner lock TTL must be positive")
	}
	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notification webhook URL is required when notifications are enabled")
	}
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("invalid scheduler cron %q: %w", c.Scheduler.Cron, err)
		}
	}
	return nil
}
