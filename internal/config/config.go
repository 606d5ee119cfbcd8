package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Account    AccountConfig    `yaml:"account" mapstructure:"account"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Persist    PersistConfig    `yaml:"persist" mapstructure:"persist"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AccountConfig identifies the signed-in user. Credential is the session
// token; a change between runs counts as a fresh sign-in.
type AccountConfig struct {
	ID         string `yaml:"id" mapstructure:"id"`
	Credential string `yaml:"credential" mapstructure:"credential"`
}

// DiscoveryConfig configures the discovery provider client.
type DiscoveryConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// EnrichmentConfig configures enrichment requests after a search.
type EnrichmentConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	CallbackURL string `yaml:"callback_url" mapstructure:"callback_url"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// IngestConfig tunes the streaming ingestion controller.
type IngestConfig struct {
	FlushIntervalMs     int `yaml:"flush_interval_ms" mapstructure:"flush_interval_ms"`
	MaxAttempts         int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs    int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs        int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	PartialThresholdPct int `yaml:"partial_threshold_pct" mapstructure:"partial_threshold_pct"`
	DefaultCount        int `yaml:"default_count" mapstructure:"default_count"`
}

// PersistConfig configures the storage tiers.
type PersistConfig struct {
	DurablePath  string       `yaml:"durable_path" mapstructure:"durable_path"`
	AutosaveSecs int          `yaml:"autosave_secs" mapstructure:"autosave_secs"`
	FetchLimit   int          `yaml:"fetch_limit" mapstructure:"fetch_limit"`
	Remote       RemoteConfig `yaml:"remote" mapstructure:"remote"`
}

// RemoteConfig selects and configures the remote backup tier.
type RemoteConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"` // "postgres", "azblob" or "none"
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32         `yaml:"max_conns" mapstructure:"max_conns"`
	AzBlob      AzBlobConfig  `yaml:"azblob" mapstructure:"azblob"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// AzBlobConfig holds Azure Blob Storage connection parameters.
type AzBlobConfig struct {
	ConnectionString string `yaml:"connection_string" mapstructure:"connection_string"`
	Container        string `yaml:"container" mapstructure:"container"`
}

// RetryConfig configures remote write retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the remote circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ScorerConfig holds the weights and thresholds of the local rule scorer.
type ScorerConfig struct {
	PhoneWeight      float64  `yaml:"phone_weight" mapstructure:"phone_weight"`
	EmailWeight      float64  `yaml:"email_weight" mapstructure:"email_weight"`
	WebsiteWeight    float64  `yaml:"website_weight" mapstructure:"website_weight"`
	AddressWeight    float64  `yaml:"address_weight" mapstructure:"address_weight"`
	RatingWeight     float64  `yaml:"rating_weight" mapstructure:"rating_weight"`
	SocialWeight     float64  `yaml:"social_weight" mapstructure:"social_weight"`
	HotThreshold     float64  `yaml:"hot_threshold" mapstructure:"hot_threshold"`
	WarmThreshold    float64  `yaml:"warm_threshold" mapstructure:"warm_threshold"`
	NegativeKeywords []string `yaml:"negative_keywords" mapstructure:"negative_keywords"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	WebhookSecret  string   `yaml:"webhook_secret" mapstructure:"webhook_secret"`
}

// MonitoringConfig configures alerting on search failures and backup health.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BackupStaleMins      int     `yaml:"backup_stale_mins" mapstructure:"backup_stale_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "json" or "console"
}

// Load reads configuration from config.yaml, the environment, and a .env
// file in the working directory if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("account.id", "default")
	v.SetDefault("account.credential", "")
	v.SetDefault("discovery.key", "")
	v.SetDefault("discovery.base_url", "https://api.prospect-discovery.example/v1")
	v.SetDefault("discovery.rate_limit", 5.0)
	v.SetDefault("enrichment.enabled", false)
	v.SetDefault("enrichment.callback_url", "")
	v.SetDefault("enrichment.batch_size", 100)
	v.SetDefault("ingest.flush_interval_ms", 16)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.initial_backoff_ms", 500)
	v.SetDefault("ingest.max_backoff_ms", 5000)
	v.SetDefault("ingest.partial_threshold_pct", 95)
	v.SetDefault("ingest.default_count", 50)
	v.SetDefault("persist.durable_path", "prospect.db")
	v.SetDefault("persist.autosave_secs", 60)
	v.SetDefault("persist.fetch_limit", 1000)
	v.SetDefault("persist.remote.driver", "none")
	v.SetDefault("persist.remote.database_url", "")
	v.SetDefault("persist.remote.max_conns", 4)
	v.SetDefault("persist.remote.azblob.connection_string", "")
	v.SetDefault("persist.remote.azblob.container", "lead-backups")
	v.SetDefault("persist.remote.retry.max_attempts", 3)
	v.SetDefault("persist.remote.retry.initial_backoff_ms", 250)
	v.SetDefault("persist.remote.retry.max_backoff_ms", 10000)
	v.SetDefault("persist.remote.circuit.failure_threshold", 5)
	v.SetDefault("persist.remote.circuit.reset_timeout_secs", 30)
	v.SetDefault("scorer.phone_weight", 30)
	v.SetDefault("scorer.email_weight", 25)
	v.SetDefault("scorer.website_weight", 15)
	v.SetDefault("scorer.address_weight", 10)
	v.SetDefault("scorer.rating_weight", 15)
	v.SetDefault("scorer.social_weight", 5)
	v.SetDefault("scorer.hot_threshold", 70)
	v.SetDefault("scorer.warm_threshold", 40)
	v.SetDefault("scorer.negative_keywords", []string{"permanently closed", "closed", "out of business"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.webhook_secret", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.backup_stale_mins", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "search",
// "serve", "local" (status, save, reset, export).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "search":
		errs = append(errs, c.validateDiscovery()...)
	case "serve":
		errs = append(errs, c.validateDiscovery()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "local":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Account.ID == "" {
		errs = append(errs, "account.id is required")
	}
	if c.Persist.DurablePath == "" {
		errs = append(errs, "persist.durable_path is required")
	}
	if c.Persist.AutosaveSecs < 0 {
		errs = append(errs, "persist.autosave_secs must be >= 0")
	}
	if c.Ingest.PartialThresholdPct < 1 || c.Ingest.PartialThresholdPct > 100 {
		errs = append(errs, "ingest.partial_threshold_pct must be between 1 and 100")
	}
	if c.Ingest.MaxAttempts < 1 || c.Ingest.MaxAttempts > 10 {
		errs = append(errs, "ingest.max_attempts must be between 1 and 10")
	}

	switch c.Persist.Remote.Driver {
	case "none", "":
	case "postgres":
		if c.Persist.Remote.DatabaseURL == "" {
			errs = append(errs, "persist.remote.database_url is required for the postgres driver")
		}
	case "azblob":
		if c.Persist.Remote.AzBlob.ConnectionString == "" {
			errs = append(errs, "persist.remote.azblob.connection_string is required for the azblob driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("persist.remote.driver %q is not one of postgres, azblob, none", c.Persist.Remote.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateDiscovery() []string {
	var errs []string
	if c.Discovery.Key == "" {
		errs = append(errs, "discovery.key is required")
	}
	if c.Discovery.BaseURL == "" {
		errs = append(errs, "discovery.base_url is required")
	}
	if c.Enrichment.Enabled && c.Enrichment.BatchSize <= 0 {
		errs = append(errs, "enrichment.batch_size must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
