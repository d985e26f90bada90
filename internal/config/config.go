// Package config loads the bot configuration from a YAML file, .env
// secrets, and environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/brendanplayford/weathertrader/pkg/weather"
)

var (
	// ErrMissingAPIKey is returned when the API key ID is not configured.
	ErrMissingAPIKey = errors.New("config: kalshi.api_key_id not set")

	// ErrMissingPrivateKey is returned when the private key path is not configured.
	ErrMissingPrivateKey = errors.New("config: kalshi.private_key_path not set")
)

// Window is a trading window on the settlement clock. Windows may wrap
// midnight (start > end), e.g. the low-temp window 20..11.
type Window struct {
	StartHourET int `mapstructure:"start_hour_et"`
	EndHourET   int `mapstructure:"end_hour_et"`
}

// Contains reports whether an ET hour falls inside the window.
func (w Window) Contains(hour int) bool {
	if w.StartHourET <= w.EndHourET {
		return hour >= w.StartHourET && hour <= w.EndHourET
	}
	return hour >= w.StartHourET || hour <= w.EndHourET
}

// CityConfig overrides or extends the built-in city registry.
type CityConfig struct {
	Primary     string   `mapstructure:"primary"`
	Surrounding []string `mapstructure:"surrounding"`
	Lat         float64  `mapstructure:"lat"`
	Lon         float64  `mapstructure:"lon"`
	KalshiHigh  string   `mapstructure:"kalshi_high"`
	KalshiLow   string   `mapstructure:"kalshi_low"`
}

// KalshiConfig holds exchange credentials and endpoints.
type KalshiConfig struct {
	APIKeyID       string `mapstructure:"api_key_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	BaseURL        string `mapstructure:"base_url"`
	DemoURL        string `mapstructure:"demo_url"`
}

// RiskConfig holds the risk gate parameters.
type RiskConfig struct {
	MaxTradesPerDay      int     `mapstructure:"max_trades_per_day"`
	MinEdgePct           float64 `mapstructure:"min_edge_pct"`
	MinEntryPrice        int     `mapstructure:"min_entry_price"`
	MaxPositionPct       float64 `mapstructure:"max_position_pct"`
	MaxContractsPerTrade int     `mapstructure:"max_contracts_per_trade"`
	MaxContractsPerTick  int     `mapstructure:"max_contracts_per_ticker"`
	MaxBracketsPerEvent  int     `mapstructure:"max_brackets_per_event"`
	TakeProfitPct        float64 `mapstructure:"take_profit_pct"`
	BonusTradesAfterWins int     `mapstructure:"bonus_trades_after_wins"`
	BonusTradeCount      int     `mapstructure:"bonus_trade_count"`
}

// NotifyConfig holds alert webhook endpoints. Empty URLs disable the
// channel.
type NotifyConfig struct {
	SlackWebhookURL   string `mapstructure:"slack_webhook_url"`
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

// Config is the full bot configuration.
type Config struct {
	DBPath     string `mapstructure:"db_path"`
	LogDir     string `mapstructure:"log_dir"`
	UseDemo    bool   `mapstructure:"use_demo"`
	KillSwitch bool   `mapstructure:"kill_switch"`

	TradingWindows struct {
		HighTemp Window `mapstructure:"high_temp"`
		LowTemp  Window `mapstructure:"low_temp"`
	} `mapstructure:"trading_windows"`

	CollectorIntervalMin int      `mapstructure:"collector_interval_min"`
	DisabledCities       []string `mapstructure:"disabled_cities"`

	Cities map[string]CityConfig `mapstructure:"cities"`
	Kalshi KalshiConfig          `mapstructure:"kalshi"`
	Risk   RiskConfig            `mapstructure:"risk"`
	Notify NotifyConfig          `mapstructure:"notify"`
}

// Load reads the config file, layering .env secrets and WEATHERBOT_*
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	// Missing .env is fine; secrets may come from the real environment.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WEATHERBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.weathertrader")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "weather_bot.db")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("use_demo", false)
	v.SetDefault("kill_switch", false)

	v.SetDefault("trading_windows.high_temp.start_hour_et", 6)
	v.SetDefault("trading_windows.high_temp.end_hour_et", 17)
	v.SetDefault("trading_windows.low_temp.start_hour_et", 20)
	v.SetDefault("trading_windows.low_temp.end_hour_et", 11)

	v.SetDefault("collector_interval_min", 10)

	v.SetDefault("kalshi.api_key_id", "")
	v.SetDefault("kalshi.private_key_path", "")
	v.SetDefault("kalshi.base_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("kalshi.demo_url", "https://demo-api.kalshi.co/trade-api/v2")

	v.SetDefault("risk.max_trades_per_day", 15)
	v.SetDefault("risk.min_edge_pct", 15.0)
	v.SetDefault("risk.min_entry_price", 2)
	v.SetDefault("risk.max_position_pct", 40.0)
	v.SetDefault("risk.max_contracts_per_trade", 10)
	v.SetDefault("risk.max_contracts_per_ticker", 50)
	v.SetDefault("risk.max_brackets_per_event", 2)
	v.SetDefault("risk.take_profit_pct", 35.0)
	v.SetDefault("risk.bonus_trades_after_wins", 18)
	v.SetDefault("risk.bonus_trade_count", 2)

	v.SetDefault("notify.slack_webhook_url", "")
	v.SetDefault("notify.discord_webhook_url", "")
}

// Validate checks that credentials are present for live trading.
func (c *Config) Validate() error {
	if c.Kalshi.APIKeyID == "" {
		return ErrMissingAPIKey
	}
	if c.Kalshi.PrivateKeyPath == "" {
		return ErrMissingPrivateKey
	}
	return nil
}

// APIBaseURL returns the exchange endpoint honoring use_demo.
func (c *Config) APIBaseURL() string {
	if c.UseDemo {
		return c.Kalshi.DemoURL
	}
	return c.Kalshi.BaseURL
}

// Window returns the trading window for a market type.
func (c *Config) Window(mt weather.MarketType) Window {
	if mt == weather.MarketLow {
		return c.TradingWindows.LowTemp
	}
	return c.TradingWindows.HighTemp
}

// CityDisabled reports whether a city is excluded from trading.
func (c *Config) CityDisabled(code string) bool {
	for _, d := range c.DisabledCities {
		if strings.EqualFold(d, code) {
			return true
		}
	}
	return false
}

// ActiveCities merges the built-in registry with config overrides and
// drops disabled cities.
func (c *Config) ActiveCities() []*weather.City {
	var cities []*weather.City
	for code, base := range weather.DefaultCities {
		if c.CityDisabled(code) {
			continue
		}
		city := *base
		if override, ok := c.Cities[code]; ok {
			applyOverride(&city, override)
		}
		cities = append(cities, &city)
	}
	return cities
}

func applyOverride(city *weather.City, o CityConfig) {
	if o.Primary != "" {
		city.Primary = o.Primary
	}
	if len(o.Surrounding) > 0 {
		city.Surrounding = o.Surrounding
	}
	if o.Lat != 0 {
		city.Lat = o.Lat
	}
	if o.Lon != 0 {
		city.Lon = o.Lon
	}
	if o.KalshiHigh != "" {
		city.HighSeries = o.KalshiHigh
	}
	if o.KalshiLow != "" {
		city.LowSeries = o.KalshiLow
	}
}
