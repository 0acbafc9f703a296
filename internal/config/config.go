package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Hub      HubConfig      `mapstructure:"hub"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Verifier VerifierConfig `mapstructure:"verifier"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Alerts   AlertConfig    `mapstructure:"alerts"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains ledger store connection configuration
type ChainConfig struct {
	Mode           string        `mapstructure:"mode"` // rpc, memory
	NodeURL        string        `mapstructure:"node_url"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig contains event history storage configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	RetentionDays    int           `mapstructure:"retention_days"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// HubConfig contains broadcast hub configuration
type HubConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// RecorderConfig contains event recorder configuration
type RecorderConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	AlertTimeout  time.Duration `mapstructure:"alert_timeout"`
}

// VerifierConfig contains verification service configuration
type VerifierConfig struct {
	MaxScan uint64 `mapstructure:"max_scan"`
}

// GuardConfig contains intake guard configuration
type GuardConfig struct {
	BanDuration time.Duration `mapstructure:"ban_duration"`
}

// AlertConfig contains alert sink configuration
type AlertConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	WebhookURL    string            `mapstructure:"webhook_url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RetryAttempts int               `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableCORS    bool          `mapstructure:"enable_cors"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.SetEnvPrefix("SENTINEL")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if nodeURL := os.Getenv("SENTINEL_NODE_URL"); nodeURL != "" {
		config.Chain.NodeURL = nodeURL
	}
	if dbURL := os.Getenv("SENTINEL_DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "sentinel-backbone")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Chain defaults
	viper.SetDefault("chain.mode", "rpc")
	viper.SetDefault("chain.node_url", "http://localhost:8899")
	viper.SetDefault("chain.request_timeout", "30s")
	viper.SetDefault("chain.retry_attempts", 3)
	viper.SetDefault("chain.retry_delay", "5s")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/events.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")
	viper.SetDefault("storage.retention_days", 30)
	viper.SetDefault("storage.cleanup_interval", "1h")

	// Hub defaults
	viper.SetDefault("hub.queue_size", 64)

	// Recorder defaults
	viper.SetDefault("recorder.retry_attempts", 3)
	viper.SetDefault("recorder.retry_delay", "500ms")
	viper.SetDefault("recorder.alert_timeout", "15s")

	// Verifier defaults
	viper.SetDefault("verifier.max_scan", 1024)

	// Guard defaults (zero means a ban never expires)
	viper.SetDefault("guard.ban_duration", "0s")

	// Alert defaults
	viper.SetDefault("alerts.enabled", false)
	viper.SetDefault("alerts.timeout", "10s")
	viper.SetDefault("alerts.retry_attempts", 3)
	viper.SetDefault("alerts.retry_delay", "1s")

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "0s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_cors", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Chain.Mode {
	case "rpc":
		if c.Chain.NodeURL == "" {
			return fmt.Errorf("chain node URL is required in rpc mode")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported chain mode: %s", c.Chain.Mode)
	}

	if c.Chain.RequestTimeout <= 0 {
		return fmt.Errorf("chain request timeout must be positive")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}
	if c.Recorder.RetryAttempts <= 0 {
		return fmt.Errorf("recorder retry attempts must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Alerts.Enabled && c.Alerts.WebhookURL == "" {
		return fmt.Errorf("alert webhook URL is required when alerts are enabled")
	}
	return nil
}
