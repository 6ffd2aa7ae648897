package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/gregtusar/cryptex/pkg/hub"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/portfolio"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Market      MarketConfig       `mapstructure:"market"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Portfolio   PortfolioConfig    `mapstructure:"portfolio"`
	Logging     LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port       int           `mapstructure:"port"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	RateBurst  int           `mapstructure:"rate_burst"`
	StreamPing time.Duration `mapstructure:"stream_ping"`
}

type MarketConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	WindowCapacity   int           `mapstructure:"window_capacity"`
	CandleRetention  int           `mapstructure:"candle_retention"`
	CandleBackfill   int           `mapstructure:"candle_backfill"`
	Timeframes       []string      `mapstructure:"timeframes"`
	DefaultTimeframe string        `mapstructure:"default_timeframe"`
	DepthLevels      int           `mapstructure:"depth_levels"`
	SpreadStep       float64       `mapstructure:"spread_step"`
	TradeCapacity    int           `mapstructure:"trade_capacity"`
	Seed             uint64        `mapstructure:"seed"`
	TickBias         float64       `mapstructure:"tick_bias"`
	TickVolatility   float64       `mapstructure:"tick_volatility"`
	MAPeriod         int           `mapstructure:"ma_period"`
	StrictInvariants bool          `mapstructure:"strict_invariants"`
}

type InstrumentConfig struct {
	ID            string  `mapstructure:"id"`
	Symbol        string  `mapstructure:"symbol"`
	Name          string  `mapstructure:"name"`
	Precision     int     `mapstructure:"precision"`
	BasePrice     float64 `mapstructure:"base_price"`
	PreviousClose float64 `mapstructure:"previous_close"`
	Volume24h     float64 `mapstructure:"volume_24h"`
}

func (c InstrumentConfig) Instrument() models.Instrument {
	return models.Instrument{
		ID:            c.ID,
		Symbol:        c.Symbol,
		Name:          c.Name,
		Precision:     c.Precision,
		BasePrice:     c.BasePrice,
		PreviousClose: c.PreviousClose,
		Volume24h:     c.Volume24h,
	}
}

type PortfolioConfig struct {
	Holdings []portfolio.Holding `mapstructure:"holdings"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cryptex")
	}

	// CRYPTEX_MARKET_TICK_INTERVAL overrides market.tick_interval
	v.SetEnvPrefix("CRYPTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.stream_ping", "30s")

	v.SetDefault("market.tick_interval", hub.DefaultTickInterval.String())
	v.SetDefault("market.window_capacity", hub.DefaultWindowCapacity)
	v.SetDefault("market.candle_retention", hub.DefaultCandleRetention)
	v.SetDefault("market.candle_backfill", hub.DefaultCandleBackfill)
	v.SetDefault("market.timeframes", []string{"1m", "5m", "15m", "1h", "4h", "1D"})
	v.SetDefault("market.default_timeframe", "1h")
	v.SetDefault("market.depth_levels", 16)
	v.SetDefault("market.spread_step", 0.0003)
	v.SetDefault("market.trade_capacity", hub.DefaultTradeCapacity)
	v.SetDefault("market.seed", 0)
	v.SetDefault("market.tick_bias", 0.495)
	v.SetDefault("market.tick_volatility", 0.003)
	v.SetDefault("market.ma_period", 14)
	v.SetDefault("market.strict_invariants", false)

	v.SetDefault("instruments", []map[string]interface{}{
		{"id": "btc", "symbol": "BTC", "name": "Bitcoin", "precision": 0, "base_price": 67420.0},
		{"id": "eth", "symbol": "ETH", "name": "Ethereum", "precision": 2, "base_price": 3580.0},
		{"id": "sol", "symbol": "SOL", "name": "Solana", "precision": 2, "base_price": 178.0},
		{"id": "ada", "symbol": "ADA", "name": "Cardano", "precision": 3, "base_price": 0.58},
		{"id": "bnb", "symbol": "BNB", "name": "BNB", "precision": 2, "base_price": 412.0},
		{"id": "avax", "symbol": "AVAX", "name": "Avalanche", "precision": 3, "base_price": 38.4},
	})

	v.SetDefault("portfolio.holdings", []map[string]interface{}{
		{"instrument": "btc", "amount": 0.42, "cost_basis": 58000.0},
		{"instrument": "eth", "amount": 3.15, "cost_basis": 2800.0},
		{"instrument": "sol", "amount": 48.0, "cost_basis": 120.0},
		{"instrument": "ada", "amount": 4200.0, "cost_basis": 0.45},
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the hub cannot run. A backfill that leaves no
// room for the open candle is not an error here; MarketOptions reduces it.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d", c.Server.Port))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		problems = append(problems, fmt.Sprintf("server rate %g/%d", c.Server.RateLimit, c.Server.RateBurst))
	}
	if c.Server.StreamPing <= 0 {
		problems = append(problems, fmt.Sprintf("server.stream_ping %s", c.Server.StreamPing))
	}

	m := c.Market
	if len(m.Timeframes) == 0 {
		problems = append(problems, "market.timeframes empty")
	}
	for _, name := range m.Timeframes {
		if _, err := models.ParseTimeframe(name); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if !contains(m.Timeframes, m.DefaultTimeframe) {
		problems = append(problems, fmt.Sprintf("market.default_timeframe %q not configured", m.DefaultTimeframe))
	}
	if m.CandleBackfill < 0 {
		problems = append(problems, fmt.Sprintf("market.candle_backfill %d", m.CandleBackfill))
	}
	if m.TickInterval <= 0 || m.WindowCapacity <= 0 || m.CandleRetention <= 0 ||
		m.DepthLevels <= 0 || m.TradeCapacity <= 0 || m.MAPeriod <= 0 {
		problems = append(problems, "market intervals, capacities and levels must be positive")
	}
	if m.SpreadStep <= 0 {
		problems = append(problems, fmt.Sprintf("market.spread_step %g", m.SpreadStep))
	}
	if m.TickBias < 0 || m.TickBias > 1 {
		problems = append(problems, fmt.Sprintf("market.tick_bias %g", m.TickBias))
	}
	if m.TickVolatility < 0 {
		problems = append(problems, fmt.Sprintf("market.tick_volatility %g", m.TickVolatility))
	}

	if len(c.Instruments) == 0 {
		problems = append(problems, "no instruments")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		switch {
		case inst.ID == "":
			problems = append(problems, "instrument with empty id")
		case seen[inst.ID]:
			problems = append(problems, fmt.Sprintf("duplicate instrument %q", inst.ID))
		case inst.BasePrice <= 0:
			problems = append(problems, fmt.Sprintf("instrument %q base_price %g", inst.ID, inst.BasePrice))
		}
		seen[inst.ID] = true
	}
	for _, h := range c.Portfolio.Holdings {
		if !seen[h.InstrumentID] {
			problems = append(problems, fmt.Sprintf("holding on unknown instrument %q", h.InstrumentID))
		}
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// MarketOptions maps the market section onto hub options. A backfill of
// retention or more is reduced to retention-1 so the open candle fits.
func (c *Config) MarketOptions(logger *logrus.Logger) (hub.Options, error) {
	m := c.Market
	opts := hub.DefaultOptions()
	opts.TickInterval = m.TickInterval
	opts.WindowCapacity = m.WindowCapacity
	opts.CandleRetention = m.CandleRetention
	opts.CandleBackfill = m.CandleBackfill
	opts.DepthLevels = m.DepthLevels
	opts.SpreadStep = m.SpreadStep
	opts.TradeCapacity = m.TradeCapacity
	opts.Seed = m.Seed
	opts.TickBias = m.TickBias
	opts.TickVolatility = m.TickVolatility
	opts.MAPeriod = m.MAPeriod
	opts.StrictInvariants = m.StrictInvariants

	opts.Timeframes = opts.Timeframes[:0]
	for _, name := range m.Timeframes {
		tf, err := models.ParseTimeframe(name)
		if err != nil {
			return hub.Options{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		opts.Timeframes = append(opts.Timeframes, tf)
	}

	if opts.CandleBackfill >= opts.CandleRetention {
		reduced := opts.CandleRetention - 1
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"candle_backfill":  opts.CandleBackfill,
				"candle_retention": opts.CandleRetention,
				"reduced_to":       reduced,
			}).Warn("Candle backfill leaves no room for the open candle, reducing")
		}
		opts.CandleBackfill = reduced
	}

	if err := opts.Validate(); err != nil {
		return hub.Options{}, err
	}
	return opts, nil
}

func (c *Config) InstrumentList() []models.Instrument {
	out := make([]models.Instrument, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, inst.Instrument())
	}
	return out
}

// BasePrices is the valuation fallback for instruments without a live price.
func (c *Config) BasePrices() map[string]float64 {
	out := make(map[string]float64, len(c.Instruments))
	for _, inst := range c.Instruments {
		out[inst.ID] = inst.BasePrice
	}
	return out
}

// NewLogger builds the process logger from the logging section. An invalid
// level falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
