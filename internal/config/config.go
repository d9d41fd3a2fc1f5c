package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"liqwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Position PositionConfig `mapstructure:"position"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Health   HealthConfig   `mapstructure:"health"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// EthereumConfig covers the live log feed.
type EthereumConfig struct {
	WSURL       string `mapstructure:"ws_url"`
	PoolAddress string `mapstructure:"pool_address"`
}

// TokenConfig names one side of the tracked pair.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// PositionConfig identifies the tracked position and seeds its balances.
// Amounts are decimal strings in native token units.
type PositionConfig struct {
	Account         string      `mapstructure:"account"`
	SupplyToken     TokenConfig `mapstructure:"supply_token"`
	BorrowToken     TokenConfig `mapstructure:"borrow_token"`
	InitialSupplied string      `mapstructure:"initial_supplied"`
	InitialBorrowed string      `mapstructure:"initial_borrowed"`
}

// PricingConfig captures price API connectivity.
type PricingConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// HealthConfig governs the evaluation cadence and alert threshold.
type HealthConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Threshold float64       `mapstructure:"threshold"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	SendTimeout   time.Duration  `mapstructure:"send_timeout"`
	ShutdownGrace time.Duration  `mapstructure:"shutdown_grace"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// IngestConfig tunes the subscription reconnect backoff.
type IngestConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIQWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvKeys(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "liqwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Aave V3 Pool on mainnet
	v.SetDefault("ethereum.pool_address", "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")

	// USDT collateral, wBTC debt
	v.SetDefault("position.supply_token.address", "0xdAC17F958D2ee523a2206206994597C13D831ec7")
	v.SetDefault("position.supply_token.decimals", 6)
	v.SetDefault("position.borrow_token.address", "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
	v.SetDefault("position.borrow_token.decimals", 8)
	v.SetDefault("position.initial_supplied", "0")
	v.SetDefault("position.initial_borrowed", "0")

	v.SetDefault("pricing.base_url", "https://api.simplehash.com/api/v0")
	v.SetDefault("pricing.refresh_interval", "30s")
	v.SetDefault("pricing.request_timeout", "10s")
	v.SetDefault("pricing.user_agent", "liqwatch/1.0")

	v.SetDefault("health.interval", "2s")
	v.SetDefault("health.threshold", 0.89)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.send_timeout", "10s")
	v.SetDefault("alerting.shutdown_grace", "5s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("ingest.initial_backoff", "2s")
	v.SetDefault("ingest.max_backoff", "16s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")
}

// bindEnvKeys registers the keys that carry no default, so environment-only
// values still surface through Unmarshal.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"ethereum.ws_url",
		"pricing.api_key",
		"position.account",
		"alerting.telegram.bot_token",
		"alerting.telegram.chat_id",
	} {
		_ = v.BindEnv(key)
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. Missing
// feed/pricing credentials are checked by the commands that need them.
func (c *Config) Validate() error {
	if c.Position.Account != "" && !common.IsHexAddress(c.Position.Account) {
		return fmt.Errorf("position.account is not a valid address: %s", c.Position.Account)
	}
	if !common.IsHexAddress(c.Position.SupplyToken.Address) {
		return fmt.Errorf("position.supply_token.address is not a valid address: %s", c.Position.SupplyToken.Address)
	}
	if !common.IsHexAddress(c.Position.BorrowToken.Address) {
		return fmt.Errorf("position.borrow_token.address is not a valid address: %s", c.Position.BorrowToken.Address)
	}
	if !common.IsHexAddress(c.Ethereum.PoolAddress) {
		return fmt.Errorf("ethereum.pool_address is not a valid address: %s", c.Ethereum.PoolAddress)
	}
	if c.Position.SupplyToken.Decimals < 0 || c.Position.BorrowToken.Decimals < 0 {
		return fmt.Errorf("token decimals cannot be negative")
	}
	for name, raw := range map[string]string{
		"position.initial_supplied": c.Position.InitialSupplied,
		"position.initial_borrowed": c.Position.InitialBorrowed,
	} {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s is not a valid decimal: %q", name, raw)
		}
		if amount.IsNegative() {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if c.Health.Threshold <= 0 {
		return fmt.Errorf("health.threshold must be greater than zero")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be greater than zero")
	}
	if c.Pricing.RefreshInterval <= 0 {
		return fmt.Errorf("pricing.refresh_interval must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// InitialAmounts parses the configured seed balances. Validate has already
// checked them.
func (c *Config) InitialAmounts() (supplied, borrowed decimal.Decimal, err error) {
	supplied, err = decimal.NewFromString(c.Position.InitialSupplied)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("parse initial_supplied: %w", err)
	}
	borrowed, err = decimal.NewFromString(c.Position.InitialBorrowed)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("parse initial_borrowed: %w", err)
	}
	return supplied, borrowed, nil
}
