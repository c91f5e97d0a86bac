// Package config loads engine configuration from a YAML file plus CORE_*
// environment overrides. A .env file in the working directory is honored
// for local development.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"trading-corev1/internal/model"
)

// Config is the full engine configuration.
type Config struct {
	Instruments []string `mapstructure:"instruments"`
	Timeframes  []string `mapstructure:"timeframes"`

	Engine  Engine  `mapstructure:"engine"`
	Agents  Agents  `mapstructure:"agents"`
	Store   Store   `mapstructure:"store"`
	Journal Journal `mapstructure:"journal"`
	Broker  Broker  `mapstructure:"broker"`
	Replay  Replay  `mapstructure:"replay"`
	Gateway Gateway `mapstructure:"gateway"`
	Metrics Metrics `mapstructure:"metrics"`
	Bus     Bus     `mapstructure:"bus"`
	Risk    Risk    `mapstructure:"risk"`
	Alerts  Alerts  `mapstructure:"alerts"`
	LLM     LLM     `mapstructure:"llm"`
	Log     Log     `mapstructure:"log"`
}

// Engine tunes the orchestrator and signal lifecycle.
type Engine struct {
	CycleIntervalSeconds int     `mapstructure:"cycle_interval_seconds"`
	AgentTimeoutSeconds  int     `mapstructure:"agent_timeout_seconds"`
	MinConfidence        float64 `mapstructure:"min_confidence"`
	MaxPositions         int     `mapstructure:"max_positions"`
	AddToPositionPct     float64 `mapstructure:"add_to_position_pct"`
	SignalTTLSeconds     int     `mapstructure:"signal_ttl_seconds"`
	DefaultQuantity      int64   `mapstructure:"default_quantity"`
	DecisionTimeframe    string  `mapstructure:"decision_timeframe"`
}

// Agents selects which analysis agents run and their aggregation weights.
type Agents struct {
	Enabled []string           `mapstructure:"enabled"`
	Weights map[string]float64 `mapstructure:"weights"`
}

// Store selects the snapshot store backend.
type Store struct {
	Backend       string `mapstructure:"backend"` // memory or redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// Journal configures the SQLite audit trail.
type Journal struct {
	Path string `mapstructure:"path"`
}

// Broker selects paper or live execution.
type Broker struct {
	Mode        string  `mapstructure:"mode"` // paper or live
	SlippageBps float64 `mapstructure:"slippage_bps"`

	AngelAPIKey     string `mapstructure:"angel_api_key"`
	AngelClientCode string `mapstructure:"angel_client_code"`
	AngelPassword   string `mapstructure:"angel_password"`
	AngelTOTPSecret string `mapstructure:"angel_totp_secret"`
	ExchangeType    int    `mapstructure:"exchange_type"`

	// Listings maps engine instrument names to exchange scrips.
	Listings map[string]Listing `mapstructure:"listings"`
}

// Listing is one instrument's exchange identity.
type Listing struct {
	Symbol   string `mapstructure:"symbol"`
	Token    string `mapstructure:"token"`
	Exchange string `mapstructure:"exchange"`
	Lot      int64  `mapstructure:"lot"`
}

// Replay configures historical playback instead of a live feed.
type Replay struct {
	Enabled bool    `mapstructure:"enabled"`
	Path    string  `mapstructure:"path"`
	Speed   float64 `mapstructure:"speed"`
	Record  bool    `mapstructure:"record"` // archive live ticks into Path
}

// Gateway tunes the WebSocket fan-out surface.
type Gateway struct {
	Addr               string            `mapstructure:"addr"`
	MaxChannels        int               `mapstructure:"max_channels"`
	MaxWildcards       int               `mapstructure:"max_wildcards"`
	ClientRatePerSec   int               `mapstructure:"client_rate_per_sec"`
	OutboundBuffer     int               `mapstructure:"outbound_buffer"`
	IdleTimeoutSeconds int               `mapstructure:"idle_timeout_seconds"`
	Tokens             map[string]string `mapstructure:"tokens"` // token → role
}

// Metrics exposes the observability endpoint.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Bus tunes the in-process pub/sub hub.
type Bus struct {
	QueueCap int `mapstructure:"queue_cap"`
}

// Risk sets soft portfolio thresholds, in paise. Zero disables a check.
// Breaches are published as warnings, not enforced.
type Risk struct {
	MaxDailyLoss int64 `mapstructure:"max_daily_loss"`
	MaxExposure  int64 `mapstructure:"max_exposure"`
}

// Alerts configures outbound notifications for triggered signals and
// execution outcomes. Sinks with empty credentials are disabled.
type Alerts struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
	WebhookURL       string `mapstructure:"webhook_url"`
}

// LLM configures the optional language-model agent.
type LLM struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// Log selects logger output.
type Log struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or text
}

// Load reads the config file at path (empty selects ./core.yaml when
// present), applies defaults and CORE_* environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	// Best effort; absence of .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("core")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instruments", []string{"NIFTY", "BANKNIFTY"})
	v.SetDefault("timeframes", []string{"1m", "5m", "15m"})

	v.SetDefault("engine.cycle_interval_seconds", 60)
	v.SetDefault("engine.agent_timeout_seconds", 20)
	v.SetDefault("engine.min_confidence", 0.55)
	v.SetDefault("engine.max_positions", 3)
	v.SetDefault("engine.add_to_position_pct", 0.5)
	v.SetDefault("engine.signal_ttl_seconds", 1800)
	v.SetDefault("engine.default_quantity", 50)
	v.SetDefault("engine.decision_timeframe", "5m")

	v.SetDefault("agents.enabled", []string{"trend", "momentum", "volatility", "volume"})

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)

	v.SetDefault("journal.path", "data/journal.db")

	v.SetDefault("broker.mode", "paper")
	v.SetDefault("broker.slippage_bps", 1.0)
	v.SetDefault("broker.exchange_type", 2)

	v.SetDefault("replay.enabled", false)
	v.SetDefault("replay.path", "data/ticks.db")
	v.SetDefault("replay.speed", 0.0)
	v.SetDefault("replay.record", false)

	v.SetDefault("gateway.addr", ":8081")
	v.SetDefault("gateway.max_channels", 50)
	v.SetDefault("gateway.max_wildcards", 5)
	v.SetDefault("gateway.client_rate_per_sec", 1000)
	v.SetDefault("gateway.outbound_buffer", 1024)
	v.SetDefault("gateway.idle_timeout_seconds", 60)

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("bus.queue_cap", 256)

	v.SetDefault("risk.max_daily_loss", 0)
	v.SetDefault("risk.max_exposure", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: no instruments configured")
	}
	if _, err := c.ParseTimeframes(); err != nil {
		return err
	}
	if _, err := model.ParseTimeframe(c.Engine.DecisionTimeframe); err != nil {
		return fmt.Errorf("config: decision_timeframe: %w", err)
	}
	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		return fmt.Errorf("config: min_confidence %v out of [0,1]", c.Engine.MinConfidence)
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Broker.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("config: unknown broker mode %q", c.Broker.Mode)
	}
	if c.Broker.Mode == "live" {
		if c.Broker.AngelAPIKey == "" || c.Broker.AngelClientCode == "" ||
			c.Broker.AngelPassword == "" || c.Broker.AngelTOTPSecret == "" {
			return fmt.Errorf("config: live broker mode requires angel credentials")
		}
		for _, inst := range c.Instruments {
			if _, ok := c.Broker.Listings[inst]; !ok {
				return fmt.Errorf("config: live broker mode: no listing for %s", inst)
			}
		}
	}
	return nil
}

// ParseTimeframes resolves the configured timeframe names.
func (c *Config) ParseTimeframes() ([]model.Timeframe, error) {
	tfs := make([]model.Timeframe, 0, len(c.Timeframes))
	for _, s := range c.Timeframes {
		tf, err := model.ParseTimeframe(s)
		if err != nil {
			return nil, fmt.Errorf("config: timeframes: %w", err)
		}
		tfs = append(tfs, tf)
	}
	return tfs, nil
}

// DecisionTF resolves the orchestrator's analysis timeframe.
func (c *Config) DecisionTF() model.Timeframe {
	tf, _ := model.ParseTimeframe(c.Engine.DecisionTimeframe)
	return tf
}

// CycleInterval returns the orchestrator period.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleIntervalSeconds) * time.Second
}

// AgentTimeout returns the per-agent analysis deadline.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Engine.AgentTimeoutSeconds) * time.Second
}

// SignalTTL returns how long an emitted signal stays armed.
func (c *Config) SignalTTL() time.Duration {
	return time.Duration(c.Engine.SignalTTLSeconds) * time.Second
}

// GatewayIdleTimeout returns the client idle deadline.
func (c *Config) GatewayIdleTimeout() time.Duration {
	return time.Duration(c.Gateway.IdleTimeoutSeconds) * time.Second
}
