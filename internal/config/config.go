package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration, built once in main and handed to the components that need it.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Sheets   SheetsConfig   `mapstructure:"sheets"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ResultPath   string        `mapstructure:"result_path"`
	AdminToken   string        `mapstructure:"admin_token"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects the gorm dialect. DSN wins over the host fields when set.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

type KafkaConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Brokers       []string         `mapstructure:"brokers"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
	MaxRetryCount int              `mapstructure:"max_retry_count"`
}

type KafkaTopicConfig struct {
	PaymentSettled string `mapstructure:"payment_settled"`
}

// GatewayConfig holds the payment gateway credentials. WebhookHash falls back to SecretKey.
type GatewayConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookHash   string        `mapstructure:"webhook_hash"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
}

// SheetsConfig maps a fee type to the spreadsheet holding its balances.
type SheetsConfig struct {
	Enabled              bool              `mapstructure:"enabled"`
	CredentialsFile      string            `mapstructure:"credentials_file"`
	DefaultSpreadsheetID string            `mapstructure:"default_spreadsheet_id"`
	Spreadsheets         map[string]string `mapstructure:"spreadsheets"`
	Timeout              time.Duration     `mapstructure:"timeout"`
}

type AuditConfig struct {
	WebhookDir string `mapstructure:"webhook_dir"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type BusinessConfig struct {
	PendingAlertAfter time.Duration `mapstructure:"pending_alert_after"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
}

func setDefaults(v *viper.Viper) {
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"server.admin_token", "database.dsn", "database.host", "database.user", "database.password",
		"redis.host", "redis.password", "gateway.secret_key", "gateway.webhook_hash",
		"sheets.credentials_file", "sheets.default_spreadsheet_id",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("redis.enabled", false)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("sheets.enabled", false)
	v.SetDefault("database.log_sql", false)
	v.SetDefault("database.port", 0)
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.result_path", "/thanks")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.name", "autopay.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("redis.retry_interval", 100*time.Millisecond)
	v.SetDefault("redis.max_retries", 50)

	v.SetDefault("kafka.topic.payment_settled", "payment.settled")
	v.SetDefault("kafka.max_retry_count", 5)

	v.SetDefault("gateway.base_url", "https://api.flutterwave.com/v3")
	v.SetDefault("gateway.verify_timeout", 10*time.Second)

	v.SetDefault("sheets.timeout", 15*time.Second)

	v.SetDefault("audit.webhook_dir", "logs/webhooks")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.max_size_mb", 1)
	v.SetDefault("log.max_backups", 5)

	v.SetDefault("business.pending_alert_after", 30*time.Minute)
	v.SetDefault("business.monitor_interval", 5*time.Minute)
}

// Load reads the YAML file at path and applies AUTOPAY_* environment overrides.
// A missing file is not an error; defaults and the environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUTOPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Gateway.WebhookHash == "" {
		cfg.Gateway.WebhookHash = cfg.Gateway.SecretKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load for process startup: any error is fatal.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	if c.Sheets.Enabled && c.Sheets.DefaultSpreadsheetID == "" && len(c.Sheets.Spreadsheets) == 0 {
		return fmt.Errorf("sheets enabled without any spreadsheet id")
	}
	return nil
}
