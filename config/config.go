// Package config loads the signal engine configuration: an optional YAML
// file, struct-tag defaults, then environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultSymbols are the top 50 Binance USDT pairs.
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"ADAUSDT", "AVAXUSDT", "DOGEUSDT", "TRXUSDT", "DOTUSDT",
	"LINKUSDT", "MATICUSDT", "LTCUSDT", "BCHUSDT", "UNIUSDT",
	"ATOMUSDT", "XLMUSDT", "XMRUSDT", "SANDUSDT", "APEUSDT",
	"APTUSDT", "INJUSDT", "FILUSDT", "RUNEUSDT", "THETAUSDT",
	"ETCUSDT", "NEARUSDT", "ARBUSDT", "OPUSDT", "SUIUSDT",
	"WLDUSDT", "PYTHUSDT", "TIAUSDT", "SEIUSDT", "JASMYUSDT",
	"GALAUSDT", "ALGOUSDT", "FTMUSDT", "ZECUSDT", "MASKUSDT",
	"KAVAUSDT", "AXSUSDT", "CHZUSDT", "SHIBUSDT", "FETUSDT",
	"QNTUSDT", "PEPEUSDT", "ROSEUSDT", "MANAUSDT", "EGLDUSDT",
}

// DefaultTimeframes are the kline intervals subscribed per symbol.
var DefaultTimeframes = []string{"1m", "5m", "15m"}

// Config holds all application configuration.
type Config struct {
	Symbols    []string `yaml:"symbols" validate:"required,min=1,dive,required,alphanum"`
	Timeframes []string `yaml:"timeframes" validate:"required,min=1,dive,oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d 3d 1w 1M"`

	Stream struct {
		BaseURL        string        `yaml:"base_url" default:"wss://stream.binance.com:9443" validate:"required,url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"2s" validate:"gt=0"`
		StartupPacing  time.Duration `yaml:"startup_pacing" default:"60ms" validate:"gte=0"`
		ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gte=0"`
	} `yaml:"stream"`

	Window struct {
		Capacity   int `yaml:"capacity" default:"2000" validate:"min=1"`
		MinHistory int `yaml:"min_history" default:"210" validate:"min=1,ltefield=Capacity"`
	} `yaml:"window"`

	Journal struct {
		Capacity int `yaml:"capacity" default:"500" validate:"min=1"`
	} `yaml:"journal"`

	HTTP struct {
		Addr            string        `yaml:"addr" default:":4000" validate:"required"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"http"`

	Enrichment struct {
		Mode          string        `yaml:"mode" default:"local" validate:"oneof=local remote"`
		APIKey        string        `yaml:"api_key"`
		BaseURL       string        `yaml:"base_url" default:"https://api.openai.com" validate:"required,url"`
		Model         string        `yaml:"model" default:"gpt-4o-mini" validate:"required"`
		RemoteTimeout time.Duration `yaml:"remote_timeout" default:"15s" validate:"gt=0"`
	} `yaml:"enrichment"`

	Redis struct {
		Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
	} `yaml:"redis"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Kafka struct {
		Brokers     []string `yaml:"brokers" validate:"omitempty,dive,hostname_port"`
		Topic       string   `yaml:"topic" default:"signals"`
		Compression string   `yaml:"compression" validate:"omitempty,oneof=gzip snappy lz4 zstd"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port" default:"9000" validate:"min=1,max=65535"`
		Database string `yaml:"database" default:"signals" validate:"required,alphanum"`
		User     string `yaml:"user" default:"default"`
		Password string `yaml:"password"`
	} `yaml:"clickhouse"`

	Notify struct {
		WebhookURL       string `yaml:"webhook_url" validate:"omitempty,url"`
		TelegramBotToken string `yaml:"telegram_bot_token" validate:"required_with=TelegramChatID"`
		TelegramChatID   string `yaml:"telegram_chat_id" validate:"required_with=TelegramBotToken"`
	} `yaml:"notify"`

	Sinks struct {
		BufferSize          int           `yaml:"buffer_size" default:"1024" validate:"min=1"`
		BreakerMaxFailures  int           `yaml:"breaker_max_failures" default:"5" validate:"min=1"`
		BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" default:"10s" validate:"gt=0"`
		HealthInterval      time.Duration `yaml:"health_interval" default:"15s" validate:"gt=0"`
	} `yaml:"sinks"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	} `yaml:"log"`
}

var validate = validator.New()

// Load reads the YAML file at path (skipped when path is ""), applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	if len(c.Symbols) == 0 {
		c.Symbols = append([]string(nil), DefaultSymbols...)
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = append([]string(nil), DefaultTimeframes...)
	}

	c.applyEnv()

	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	c.Enrichment.Mode = strings.ToLower(c.Enrichment.Mode)

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("config: validate: %w", describe(err))
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	c.Symbols = getEnvList("SYMBOLS", c.Symbols)
	c.Timeframes = getEnvList("TIMEFRAMES", c.Timeframes)
	c.Stream.BaseURL = getEnv("STREAM_BASE_URL", c.Stream.BaseURL)

	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)

	c.Enrichment.Mode = getEnv("AI_MODE", c.Enrichment.Mode)
	c.Enrichment.APIKey = getEnv("OPENAI_API_KEY", c.Enrichment.APIKey)
	c.Enrichment.BaseURL = getEnv("OPENAI_BASE_URL", c.Enrichment.BaseURL)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)
	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)

	c.ClickHouse.Host = getEnv("CLICKHOUSE_HOST", c.ClickHouse.Host)
	c.ClickHouse.Port = getEnvInt("CLICKHOUSE_PORT", c.ClickHouse.Port)
	c.ClickHouse.Database = getEnv("CLICKHOUSE_DB", c.ClickHouse.Database)
	c.ClickHouse.User = getEnv("CLICKHOUSE_USER", c.ClickHouse.User)
	c.ClickHouse.Password = getEnv("CLICKHOUSE_PASSWORD", c.ClickHouse.Password)

	c.Notify.WebhookURL = getEnv("WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramBotToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// describe flattens validator errors into one readable line.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w (%s)", err, strings.Join(parts, "; "))
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvList parses a comma-separated variable, skipping empty items.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return SplitList(v)
}

// SplitList splits a comma-separated list and trims each item.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
