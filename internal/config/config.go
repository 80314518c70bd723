// Package config provides configuration management for the spread engine.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

const defaultTimezone = "America/New_York"

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Regime      RegimeConfig      `yaml:"regime"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Exit        ExitConfig        `yaml:"exit"`
	Risk        RiskConfig        `yaml:"risk"`
	Storage     StorageConfig     `yaml:"storage"`
	Notify      NotifyConfig      `yaml:"notify"`
	Status      StatusConfig      `yaml:"status"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode" default:"paper" validate:"oneof=paper live"`
	LogLevel  string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" default:"text" validate:"oneof=text json"`
}

// BrokerConfig defines connector resilience settings.
type BrokerConfig struct {
	Provider       string        `yaml:"provider" default:"paper" validate:"oneof=paper"`
	RateLimit      float64       `yaml:"rate_limit" default:"5" validate:"gt=0"` // requests per second
	Burst          int           `yaml:"burst" default:"5" validate:"gte=1"`
	CallTimeout    time.Duration `yaml:"call_timeout" default:"10s" validate:"gt=0"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig   `yaml:"retry"`
	Paper          PaperConfig   `yaml:"paper"`
}

// BreakerConfig configures the connector circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests" default:"3" validate:"gte=1"`
	Interval     time.Duration `yaml:"interval" default:"60s"`
	Timeout      time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`
	MinRequests  uint32        `yaml:"min_requests" default:"5"`
	FailureRatio float64       `yaml:"failure_ratio" default:"0.6" validate:"gt=0,lte=1"`
}

// RetryConfig configures retries of transient submission errors.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" default:"2" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" default:"1s"`
	MaxBackoff     time.Duration `yaml:"max_backoff" default:"10s"`
}

// PaperConfig tunes the simulated connector.
type PaperConfig struct {
	VIX         float64 `yaml:"vix" default:"18" validate:"gt=0"`
	PriceNoise  float64 `yaml:"price_noise" default:"0.001" validate:"gte=0,lt=1"` // per-snapshot move
	FillAfter   int     `yaml:"fill_after" default:"0" validate:"gte=0"`            // polls before an order fills
	HistoryDays int     `yaml:"history_days" default:"80" validate:"gte=2"`
	Seed        uint64  `yaml:"seed"`
}

// ScheduleConfig defines the entry and management windows.
type ScheduleConfig struct {
	CheckInterval time.Duration `yaml:"check_interval" default:"5m" validate:"gt=0"`
	ReconcileGap  time.Duration `yaml:"reconcile_gap" default:"30m" validate:"gt=0"`
	Timezone      string        `yaml:"timezone" default:"America/New_York"`
	EntryStart    string        `yaml:"entry_start" default:"10:00"`  // "HH:MM"
	EntryEnd      string        `yaml:"entry_end" default:"15:00"`    // "HH:MM"
	ManageStart   string        `yaml:"manage_start" default:"09:30"` // "HH:MM"
	ManageEnd     string        `yaml:"manage_end" default:"16:00"`   // "HH:MM"
}

// RegimeConfig holds the regime classification thresholds.
type RegimeConfig struct {
	VIXLow         float64 `yaml:"vix_low" default:"15" validate:"gt=0"`
	VIXHigh        float64 `yaml:"vix_high" default:"25" validate:"gt=0"`
	VIXExtreme     float64 `yaml:"vix_extreme" default:"35" validate:"gt=0"`
	TrendThreshold float64 `yaml:"trend_threshold" default:"0.02" validate:"gt=0,lt=1"`
	RSIOversold    float64 `yaml:"rsi_oversold" default:"30" validate:"gte=0,lte=100"`
	RSIOverbought  float64 `yaml:"rsi_overbought" default:"70" validate:"gte=0,lte=100"`
	RSIFilter      bool    `yaml:"rsi_filter"`
	FastPeriod     int     `yaml:"fast_period" default:"20" validate:"gte=1"`
	SlowPeriod     int     `yaml:"slow_period" default:"50" validate:"gte=1"`
	RSIPeriod      int     `yaml:"rsi_period" default:"14" validate:"gte=1"`
}

// StrategyConfig defines spread construction parameters.
type StrategyConfig struct {
	Underlyings     []string `yaml:"underlyings" default:"[\"SPY\",\"QQQ\",\"IWM\"]" validate:"min=1,dive,required"`
	TargetDelta     float64  `yaml:"target_delta" default:"0.25"`
	DeltaTolerance  float64  `yaml:"delta_tolerance" default:"0.10" validate:"gt=0,lt=1"`
	SpreadWidth     float64  `yaml:"spread_width" default:"5"`
	TargetDTE       int      `yaml:"target_dte" default:"35" validate:"gt=0"`
	Pricing         string   `yaml:"pricing" default:"mid" validate:"oneof=mid natural"`
	MinCredit       float64  `yaml:"min_credit" default:"0.50" validate:"gte=0"`
	MinCreditPct    float64  `yaml:"min_credit_pct" default:"0.10" validate:"gte=0,lt=1"`
	MaxBidAskPct    float64  `yaml:"max_bid_ask_pct" default:"0.10" validate:"gte=0"`
	MaxBidAskAbs    float64  `yaml:"max_bid_ask_abs" default:"0.30" validate:"gte=0"`
	MinOpenInterest int64    `yaml:"min_open_interest" default:"100" validate:"gte=0"`
	TickSize        float64  `yaml:"tick_size" default:"0.01" validate:"gt=0"`
}

// ExitConfig defines exit criteria for open positions.
type ExitConfig struct {
	ProfitTargetPct    float64 `yaml:"profit_target_pct" default:"0.5"`
	StopLossMultiplier float64 `yaml:"stop_loss_multiplier" default:"2.0"`
	DTEExit            int     `yaml:"dte_exit" default:"21" validate:"gte=0"`
}

// RiskConfig defines risk management parameters.
type RiskConfig struct {
	MaxRiskPerTrade           float64 `yaml:"max_risk_per_trade" default:"500" validate:"gt=0"`
	MaxPositions              int     `yaml:"max_positions" default:"5" validate:"gte=1"`
	MaxPositionsPerUnderlying int     `yaml:"max_positions_per_underlying" default:"2" validate:"gte=1"`
	MaxContracts              int     `yaml:"max_contracts" default:"10" validate:"gte=1"`
}

// StorageConfig defines where the position ledger lives.
type StorageConfig struct {
	Backend string `yaml:"backend" default:"json" validate:"oneof=json sqlite"`
	Path    string `yaml:"path" default:"positions.json" validate:"required"`
}

// NotifyConfig selects notification sinks.
type NotifyConfig struct {
	Events    []string       `yaml:"events"` // empty means all events
	QueueSize int            `yaml:"queue_size" default:"64" validate:"gte=1"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Redis     RedisConfig    `yaml:"redis"`
}

// TelegramConfig configures the Telegram sender.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base" default:"https://api.telegram.org"`
}

// RedisConfig configures the Redis pub/sub sender.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel" default:"spread_engine.events"`
}

// StatusConfig configures the read-only status server.
type StatusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr" default:":8080"`
	AuthToken string `yaml:"auth_token"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns a configuration populated with default values.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("%w: applying defaults: %v", models.ErrConfiguration, err)
	}
	return &cfg, nil
}

// Load reads and parses the configuration file from the specified path.
// A .env file next to the config is loaded first so ${VARS} can be expanded.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: loading %s: %v", models.ErrConfiguration, envPath, err)
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %v", models.ErrConfiguration, err)
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing config: %v", models.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid config: %v", models.ErrConfiguration, err)
	}
	return cfg, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !c.IsPaperTrading() {
		return fmt.Errorf("environment.mode %q needs a live broker provider, only %q is available",
			c.Environment.Mode, c.Broker.Provider)
	}

	// Regime thresholds must be ordered
	if !(c.Regime.VIXLow < c.Regime.VIXHigh && c.Regime.VIXHigh < c.Regime.VIXExtreme) {
		return fmt.Errorf("regime vix thresholds must satisfy vix_low (%.2f) < vix_high (%.2f) < vix_extreme (%.2f)",
			c.Regime.VIXLow, c.Regime.VIXHigh, c.Regime.VIXExtreme)
	}
	if c.Regime.RSIOversold >= c.Regime.RSIOverbought {
		return fmt.Errorf("regime.rsi_oversold (%.0f) must be < regime.rsi_overbought (%.0f)",
			c.Regime.RSIOversold, c.Regime.RSIOverbought)
	}
	if c.Regime.FastPeriod >= c.Regime.SlowPeriod {
		return fmt.Errorf("regime.fast_period (%d) must be < regime.slow_period (%d)",
			c.Regime.FastPeriod, c.Regime.SlowPeriod)
	}

	// Strategy validation
	if c.Strategy.TargetDelta <= 0 || c.Strategy.TargetDelta >= 1 {
		return fmt.Errorf("strategy.target_delta must be in (0,1), got %.3f", c.Strategy.TargetDelta)
	}
	if c.Strategy.SpreadWidth <= 0 {
		return fmt.Errorf("strategy.spread_width must be > 0, got %.2f", c.Strategy.SpreadWidth)
	}
	if c.Strategy.MinCredit >= c.Strategy.SpreadWidth {
		return fmt.Errorf("strategy.min_credit (%.2f) must be < strategy.spread_width (%.2f)",
			c.Strategy.MinCredit, c.Strategy.SpreadWidth)
	}

	// Exit configuration validation
	if c.Exit.ProfitTargetPct <= 0 || c.Exit.ProfitTargetPct > 1 {
		return fmt.Errorf("exit.profit_target_pct must be in (0,1]")
	}
	if c.Exit.StopLossMultiplier <= 0 {
		return fmt.Errorf("exit.stop_loss_multiplier must be > 0")
	}

	// Risk validation
	if c.Risk.MaxPositionsPerUnderlying > c.Risk.MaxPositions {
		return fmt.Errorf("risk.max_positions_per_underlying (%d) must be <= risk.max_positions (%d)",
			c.Risk.MaxPositionsPerUnderlying, c.Risk.MaxPositions)
	}

	// Schedule validation
	if _, err := time.LoadLocation(c.timezone()); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	entry, err := parseWindow(c.Schedule.EntryStart, c.Schedule.EntryEnd)
	if err != nil {
		return fmt.Errorf("schedule entry window invalid: %w", err)
	}
	manage, err := parseWindow(c.Schedule.ManageStart, c.Schedule.ManageEnd)
	if err != nil {
		return fmt.Errorf("schedule management window invalid: %w", err)
	}
	if entry.start < manage.start || entry.end > manage.end {
		return fmt.Errorf("schedule entry window %s-%s must lie inside management window %s-%s",
			c.Schedule.EntryStart, c.Schedule.EntryEnd, c.Schedule.ManageStart, c.Schedule.ManageEnd)
	}

	// Notification sinks
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	if c.Notify.Redis.Enabled && c.Notify.Redis.Addr == "" {
		return fmt.Errorf("notify.redis.addr is required when enabled")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

func (c *Config) timezone() string {
	if c.Schedule.Timezone == "" {
		return defaultTimezone
	}
	return c.Schedule.Timezone
}
