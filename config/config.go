package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full bot configuration.
type Config struct {
	Maker   VenueConfig   `yaml:"maker"`
	Taker   VenueConfig   `yaml:"taker"`
	Trading TradingConfig `yaml:"trading"`
	Storage StorageConfig `yaml:"storage"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

// VenueConfig selects and configures one venue client.
type VenueConfig struct {
	Name   string            `yaml:"name"`    // registered venue name, e.g. "sim"
	Pair   string            `yaml:"pair"`    // venue pair code, e.g. "btc_usd"
	APIKey string            `yaml:"api_key"` // overridable via env
	Extra  map[string]string `yaml:"extra"`
}

// SideConfig holds one side's static trading parameters. The persisted store
// overrides any value the operator sets there.
type SideConfig struct {
	Value  float64 `yaml:"value"`   // fiat per buy order / crypto per sell order
	Profit float64 `yaml:"profit"`  // margin in percent
	FxRate float64 `yaml:"fx_rate"` // maker fiat per taker fiat; 0 = same currency
}

// TradingConfig controls both workflows.
type TradingConfig struct {
	Buying                 SideConfig `yaml:"buying"`
	Selling                SideConfig `yaml:"selling"`
	TimeToLiveSeconds      int        `yaml:"time_to_live_seconds"`
	CloseTimeToLiveSeconds int        `yaml:"close_time_to_live_seconds"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// NotifyConfig selects the notification channel.
type NotifyConfig struct {
	Channel        string `yaml:"channel"` // console | telegram
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file and the .env file if present. Environment values
// override YAML for secrets and logging.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TimeToLive returns the opening-order time to live.
func (c *Config) TimeToLive() time.Duration {
	return time.Duration(c.Trading.TimeToLiveSeconds) * time.Second
}

// CloseTimeToLive returns the hedge-order time to live.
func (c *Config) CloseTimeToLive() time.Duration {
	return time.Duration(c.Trading.CloseTimeToLiveSeconds) * time.Second
}

func (c *Config) validate() error {
	if c.Maker.Name == "" || c.Taker.Name == "" {
		return fmt.Errorf("config.Load: maker and taker venues are required")
	}
	if c.Trading.Buying.Value <= 0 && c.Trading.Selling.Value <= 0 {
		return fmt.Errorf("config.Load: at least one side needs a positive order value")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("MAKER_API_KEY"); v != "" {
		cfg.Maker.APIKey = v
	}
	if v := os.Getenv("TAKER_API_KEY"); v != "" {
		cfg.Taker.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notify.TelegramChatID = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Trading.TimeToLiveSeconds <= 0 {
		cfg.Trading.TimeToLiveSeconds = 20
	}
	if cfg.Trading.CloseTimeToLiveSeconds <= 0 {
		cfg.Trading.CloseTimeToLiveSeconds = 30
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "arbot.db"
	}
	if cfg.Notify.Channel == "" {
		cfg.Notify.Channel = "console"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
