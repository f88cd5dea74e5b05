package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/CasualCodersProjects/autostonks/internal/models"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	Alpaca        AlpacaConfig        `mapstructure:"alpaca"`
	Disclosure    DisclosureConfig    `mapstructure:"disclosure"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Trading       TradingConfig       `mapstructure:"trading"`
	MeanReversion MeanReversionConfig `mapstructure:"mean_reversion"`
	CopyCat       CopyCatConfig       `mapstructure:"copycat"`
	Threshold     ThresholdConfig     `mapstructure:"threshold"`
}

type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key" json:"-" yaml:"-"`
	APISecret string `mapstructure:"api_secret" json:"-" yaml:"-"`
	BaseURL   string `mapstructure:"base_url"`
	DataURL   string `mapstructure:"data_url"`
	Timeout   int    `mapstructure:"timeout"`
}

type DisclosureConfig struct {
	BaseURL string   `mapstructure:"base_url"`
	Timeout int      `mapstructure:"timeout"`
	Funds   []string `mapstructure:"funds"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // "file" or "redis"
	Dir     string `mapstructure:"dir"`
	TTL     string `mapstructure:"ttl"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type TradingConfig struct {
	PollInterval       string `mapstructure:"poll_interval"`
	MaxRetries         int    `mapstructure:"max_retries"`
	RetryBackoff       string `mapstructure:"retry_backoff"`
	LiquidationTimeout string `mapstructure:"liquidation_timeout"`
}

type MeanReversionConfig struct {
	Symbols      []string `mapstructure:"symbols"`
	Budget       float64  `mapstructure:"budget"` // 0 means all available cash
	Lookback     string   `mapstructure:"lookback"`
	BatchSize    int      `mapstructure:"batch_size"`
	MaxPositions int      `mapstructure:"max_positions"`
}

type CopyCatConfig struct {
	Fund          string  `mapstructure:"fund"`
	BudgetPercent float64 `mapstructure:"budget_percent"`
	MinBalance    float64 `mapstructure:"min_balance"`
}

type ThresholdConfig struct {
	Symbols      []string `mapstructure:"symbols"`
	Qty          int64    `mapstructure:"qty"`
	MinGain      float64  `mapstructure:"min_gain"`
	MaxLoss      float64  `mapstructure:"max_loss"`
	PollInterval string   `mapstructure:"poll_interval"`
}

// Load reads configuration from configs/config.yaml (if present), the
// environment, and defaults. Credentials come from the environment; the
// config file never carries them.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The original deployment exports plain API_KEY / API_SECRET.
	if err := viper.BindEnv("alpaca.api_key", "API_KEY", "APCA_API_KEY_ID"); err != nil {
		return nil, fmt.Errorf("failed to bind API_KEY: %w", err)
	}
	if err := viper.BindEnv("alpaca.api_secret", "API_SECRET", "APCA_API_SECRET_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind API_SECRET: %w", err)
	}
	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	return &config, nil
}

// Validate checks the parameters every strategy depends on. Configuration
// errors abort at startup, never mid-cycle.
func (c *Config) Validate() error {
	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		return errors.New("API_KEY and API_SECRET must be set")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"trading.poll_interval", c.Trading.PollInterval},
		{"trading.retry_backoff", c.Trading.RetryBackoff},
		{"trading.liquidation_timeout", c.Trading.LiquidationTimeout},
		{"cache.ttl", c.Cache.TTL},
		{"threshold.poll_interval", c.Threshold.PollInterval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", field.name, err)
		}
	}

	if c.Trading.MaxRetries < 1 {
		return errors.New("trading.max_retries must be at least 1")
	}

	if !models.Lookback(c.MeanReversion.Lookback).Valid() {
		return fmt.Errorf("invalid mean_reversion.lookback %q (want day, week or month)", c.MeanReversion.Lookback)
	}
	if c.MeanReversion.Budget < 0 {
		return errors.New("mean_reversion.budget must not be negative")
	}
	if c.MeanReversion.BatchSize < 1 {
		return errors.New("mean_reversion.batch_size must be at least 1")
	}
	if c.MeanReversion.MaxPositions < 1 {
		return errors.New("mean_reversion.max_positions must be at least 1")
	}

	if c.CopyCat.BudgetPercent <= 0 || c.CopyCat.BudgetPercent > 1 {
		return errors.New("copycat.budget_percent must be in (0, 1]")
	}
	if c.CopyCat.MinBalance < 0 {
		return errors.New("copycat.min_balance must not be negative")
	}

	if c.Threshold.Qty < 1 {
		return errors.New("threshold.qty must be at least 1")
	}
	if c.Threshold.MinGain <= 0 {
		return errors.New("threshold.min_gain must be positive")
	}
	if c.Threshold.MaxLoss >= 0 {
		return errors.New("threshold.max_loss must be a negative bound")
	}

	switch c.Cache.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("invalid cache.backend %q (want file or redis)", c.Cache.Backend)
	}

	return nil
}

// CacheTTL returns the parsed cache TTL. Call Validate first.
func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Cache.TTL)
	return d
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("alpaca.base_url", "https://paper-api.alpaca.markets")
	viper.SetDefault("alpaca.data_url", "https://data.alpaca.markets")
	viper.SetDefault("alpaca.timeout", 30)

	viper.SetDefault("disclosure.base_url", "https://arkfunds.io/api/v2")
	viper.SetDefault("disclosure.timeout", 30)
	viper.SetDefault("disclosure.funds", []string{
		"ARKK", "ARKW", "ARKQ", "ARKG", "ARKF", "ARKX", "PRNT", "IZRL",
	})

	viper.SetDefault("server.port", 0)

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "autostonks")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.backend", "file")
	viper.SetDefault("cache.dir", ".autostonks")
	viper.SetDefault("cache.ttl", "12h")

	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)

	viper.SetDefault("trading.poll_interval", "10s")
	viper.SetDefault("trading.max_retries", 5)
	viper.SetDefault("trading.retry_backoff", "30s")
	viper.SetDefault("trading.liquidation_timeout", "5m")

	viper.SetDefault("mean_reversion.symbols", []string{})
	viper.SetDefault("mean_reversion.budget", 0.0)
	viper.SetDefault("mean_reversion.lookback", "month")
	viper.SetDefault("mean_reversion.batch_size", 50)
	viper.SetDefault("mean_reversion.max_positions", 10)

	viper.SetDefault("copycat.fund", "ARKK")
	viper.SetDefault("copycat.budget_percent", 0.1)
	viper.SetDefault("copycat.min_balance", 1000.0)

	viper.SetDefault("threshold.symbols", []string{})
	viper.SetDefault("threshold.qty", 1)
	viper.SetDefault("threshold.min_gain", 1.0)
	viper.SetDefault("threshold.max_loss", -1.0)
	viper.SetDefault("threshold.poll_interval", "1s")
}
