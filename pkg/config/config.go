package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TradingConfig holds every tunable of the decision core. It is built once
// at startup and never mutated afterwards; components receive it by value.
type TradingConfig struct {
	// Feature engineering
	Indicators    []string `yaml:"indicators"`
	PatternWindow int      `yaml:"pattern_window" default:"60" validate:"gte=30"`

	// Model parameters
	EmbeddingSize int     `yaml:"embedding_size" default:"16" validate:"gt=0"`
	LearningRate  float64 `yaml:"learning_rate" default:"0.001" validate:"gt=0"`

	// Reinforcement learning
	RLGamma      float64 `yaml:"rl_gamma" default:"0.99" validate:"gt=0,lte=1"`
	RLEpsilon    float64 `yaml:"rl_epsilon" default:"0.1" validate:"gte=0,lte=1"`
	RLMemorySize int     `yaml:"rl_memory_size" default:"10000" validate:"gt=0"`
	RLBatchSize  int     `yaml:"rl_batch_size" default:"64" validate:"gt=0"`
	RLEpochs     int     `yaml:"rl_epochs" default:"30" validate:"gt=0"`

	// Risk management
	MaxPositionSize float64 `yaml:"max_position_size" default:"0.1" validate:"gt=0,lte=1"`
	StopLossPct     float64 `yaml:"stop_loss_pct" default:"0.02" validate:"gt=0"`
	TakeProfitPct   float64 `yaml:"take_profit_pct" default:"0.05" validate:"gt=0"`
	UseTrailingStop bool    `yaml:"use_trailing_stop"`
	TrailingPct     float64 `yaml:"trailing_pct" default:"0.015" validate:"gte=0"`

	// Execution
	PaperTrading  bool    `yaml:"paper_trading" default:"true"`
	TradeSlippage float64 `yaml:"trade_slippage" default:"0.001" validate:"gte=0"`

	// Real-time adaptation
	AdaptationFrequency   time.Duration `yaml:"adaptation_frequency" default:"15m" validate:"gt=0"`
	ModelRetrainThreshold float64       `yaml:"model_retrain_threshold" default:"0.85" validate:"gt=0,lt=1"`
	MinTrainSamples       int           `yaml:"min_train_samples" default:"256" validate:"gt=0"`
	EvaluationWindow      int           `yaml:"evaluation_window" default:"100" validate:"gt=0"`

	// Market data
	Symbols      []string      `yaml:"symbols" validate:"min=1"`
	BarInterval  time.Duration `yaml:"bar_interval" default:"1m" validate:"gt=0"`
	BarQueueSize int           `yaml:"bar_queue_size" default:"256" validate:"gt=0"`
	UseMockFeed  bool          `yaml:"use_mock_feed" default:"true"`
	ProviderURL  string        `yaml:"provider_url"`
	StreamURL    string        `yaml:"stream_url"`

	// Persistence
	DBPath string `yaml:"db_path" default:"./data/trader.db" validate:"required"`

	// Monitoring API
	Port string `yaml:"port" default:"8080"`

	// Shutdown
	DrainTimeout time.Duration `yaml:"drain_timeout" default:"5s" validate:"gt=0"`

	// Logging
	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"console"`
}

// DefaultIndicators is the indicator set computed when the config does not
// name one. The order fixes the feature vector layout.
var DefaultIndicators = []string{
	"sma_20", "sma_50", "ema_12", "ema_26",
	"rsi_14", "macd", "bollinger_upper", "bollinger_lower",
	"atr_14", "obv",
}

// Load builds the configuration: struct defaults, then an optional YAML
// file, then environment overrides, then validation. Any validation error
// is returned to the caller and must be treated as fatal.
func Load(path string) (TradingConfig, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	var cfg TradingConfig
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if len(cfg.Indicators) == 0 {
		cfg.Indicators = append([]string(nil), DefaultIndicators...)
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the struct tags plus the cross-field invariants that
// tags cannot express.
func Validate(cfg TradingConfig) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if cfg.TakeProfitPct <= cfg.StopLossPct {
		return fmt.Errorf("config validation: take_profit_pct (%v) must exceed stop_loss_pct (%v)",
			cfg.TakeProfitPct, cfg.StopLossPct)
	}
	if cfg.RLBatchSize > cfg.RLMemorySize {
		return fmt.Errorf("config validation: rl_batch_size (%d) exceeds rl_memory_size (%d)",
			cfg.RLBatchSize, cfg.RLMemorySize)
	}
	if cfg.MinTrainSamples > cfg.RLMemorySize {
		return fmt.Errorf("config validation: min_train_samples (%d) exceeds rl_memory_size (%d)",
			cfg.MinTrainSamples, cfg.RLMemorySize)
	}
	return nil
}

func applyEnvOverrides(cfg *TradingConfig) {
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.ProviderURL, "PROVIDER_URL")
	setString(&cfg.StreamURL, "STREAM_URL")

	setBool(&cfg.PaperTrading, "PAPER_TRADING")
	setBool(&cfg.UseMockFeed, "USE_MOCK_FEED")
	setBool(&cfg.UseTrailingStop, "USE_TRAILING_STOP")

	setFloat(&cfg.MaxPositionSize, "MAX_POSITION_SIZE")
	setFloat(&cfg.StopLossPct, "STOP_LOSS_PCT")
	setFloat(&cfg.TakeProfitPct, "TAKE_PROFIT_PCT")
	setFloat(&cfg.ModelRetrainThreshold, "MODEL_RETRAIN_THRESHOLD")
	setFloat(&cfg.RLGamma, "RL_GAMMA")
	setFloat(&cfg.RLEpsilon, "RL_EPSILON")
	setFloat(&cfg.TradeSlippage, "TRADE_SLIPPAGE")

	setInt(&cfg.RLMemorySize, "RL_MEMORY_SIZE")
	setInt(&cfg.RLBatchSize, "RL_BATCH_SIZE")
	setInt(&cfg.PatternWindow, "PATTERN_WINDOW")
	setInt(&cfg.MinTrainSamples, "MIN_TRAIN_SAMPLES")

	setDuration(&cfg.AdaptationFrequency, "ADAPTATION_FREQUENCY")
	setDuration(&cfg.BarInterval, "BAR_INTERVAL")

	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Symbols = splitAndTrim(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true")
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
