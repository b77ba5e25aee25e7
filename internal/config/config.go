package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the single immutable configuration value built at startup and
// handed to the Supervisor, which hands sub-views to each component.
type Config struct {
	Database  DatabaseConfig    `mapstructure:"database"`
	Providers []ProviderConfig  `mapstructure:"providers"`
	Prompts   []PromptConfig    `mapstructure:"prompts"`
	Worker    WorkerConfig      `mapstructure:"worker"`
	Rate      RateConfig        `mapstructure:"rate"`
	Retry     RetryConfig       `mapstructure:"retry"`
	Store     StoreConfig       `mapstructure:"store"`
	Guardian  GuardianConfig    `mapstructure:"guardian"`
	Coverage  CoverageConfig    `mapstructure:"coverage"`
	KeyPool   KeyPoolConfig     `mapstructure:"key_pool"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConnections  int    `mapstructure:"max_connections"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// ProviderConfig describes one logical provider family and its models.
type ProviderConfig struct {
	Name          string   `mapstructure:"name"`
	Tier          string   `mapstructure:"tier"`
	Models        []string `mapstructure:"models"`
	BaseURL       string   `mapstructure:"base_url"`
	CredentialsRef string  `mapstructure:"credentials_ref"`
	Keys          []string `mapstructure:"keys"`
}

type PromptConfig struct {
	PromptID string `mapstructure:"prompt_id"`
	Text     string `mapstructure:"text"`
	Version  int    `mapstructure:"version"`
}

type WorkerConfig struct {
	Count          int           `mapstructure:"count"`
	BatchSize      int           `mapstructure:"batch_size"`
	DomainDeadline time.Duration `mapstructure:"domain_deadline"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Grace          time.Duration `mapstructure:"grace"`
}

type TierRateConfig struct {
	MaxInFlight int           `mapstructure:"max_in_flight"`
	MinSpacing  time.Duration `mapstructure:"min_spacing"`
}

type RateConfig struct {
	Fast   TierRateConfig `mapstructure:"fast"`
	Medium TierRateConfig `mapstructure:"medium"`
	Slow   TierRateConfig `mapstructure:"slow"`
}

func (r RateConfig) ForTier(tier string) TierRateConfig {
	switch tier {
	case "fast":
		return r.Fast
	case "slow":
		return r.Slow
	default:
		return r.Medium
	}
}

type RetryConfig struct {
	Base time.Duration `mapstructure:"base"`
	Cap  time.Duration `mapstructure:"cap"`
	Max  int           `mapstructure:"max"`
}

type StoreConfig struct {
	MinuteBucket time.Duration `mapstructure:"minute_bucket"`
}

type GuardianConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	StuckAfter     time.Duration `mapstructure:"stuck_after"`
	AuditWindow    time.Duration `mapstructure:"audit_window"`
	AuditThreshold float64       `mapstructure:"audit_threshold"`
}

type CoverageConfig struct {
	RequiredFraction float64 `mapstructure:"required_fraction"`
}

// KeyPoolConfig holds the two cooldown windows a key can land in: a short
// one for a rate-limited key (429) and a longer one for a key the provider
// has rejected outright (401/403).
type KeyPoolConfig struct {
	Quarantine time.Duration `mapstructure:"quarantine"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
}

// Load reads configuration from the given YAML file, applying defaults and
// allowing environment variables to override any key.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 20)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 1800)

	viper.SetDefault("worker.count", 8)
	viper.SetDefault("worker.batch_size", 10)
	viper.SetDefault("worker.domain_deadline", "5m")
	viper.SetDefault("worker.max_attempts", 5)
	viper.SetDefault("worker.grace", "15s")

	viper.SetDefault("rate.fast.max_in_flight", 16)
	viper.SetDefault("rate.fast.min_spacing", "0s")
	viper.SetDefault("rate.medium.max_in_flight", 4)
	viper.SetDefault("rate.medium.min_spacing", "1s")
	viper.SetDefault("rate.slow.max_in_flight", 1)
	viper.SetDefault("rate.slow.min_spacing", "6s")

	viper.SetDefault("retry.base", "500ms")
	viper.SetDefault("retry.cap", "30s")
	viper.SetDefault("retry.max", 5)

	viper.SetDefault("store.minute_bucket", "1m")

	viper.SetDefault("guardian.interval", "1m")
	viper.SetDefault("guardian.stuck_after", "10m")
	viper.SetDefault("guardian.audit_window", "1h")
	viper.SetDefault("guardian.audit_threshold", 0.5)

	viper.SetDefault("coverage.required_fraction", 1.0)

	viper.SetDefault("key_pool.quarantine", "30m")
	viper.SetDefault("key_pool.cooldown", "1m")
}
