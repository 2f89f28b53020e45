package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"FinPulse/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8000"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
	} `yaml:"server"`
	Logging struct {
		Level      string `yaml:"level" default:"info"`
		Format     string `yaml:"format" default:"console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collect    struct {
			Enabled        bool          `yaml:"enabled"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
			Topic          string        `yaml:"topic" default:"finpulse.logs"`
		} `yaml:"collect"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Scheduler struct {
		Interval           time.Duration `yaml:"interval" default:"30s"`
		Concurrency        int           `yaml:"concurrency" default:"5"`
		BroadcastUnchanged bool          `yaml:"broadcast_unchanged"`
		Watchlist          []string      `yaml:"watchlist"`
	} `yaml:"scheduler"`
	Cache struct {
		TTL             time.Duration `yaml:"ttl" default:"30s"`
		ClosedMarketTTL time.Duration `yaml:"closed_market_ttl"`
		StaleGrace      time.Duration `yaml:"stale_grace" default:"5m"`
		SweepInterval   time.Duration `yaml:"sweep_interval" default:"1m"`
		MaxEntries      int           `yaml:"max_entries" default:"2000"`
	} `yaml:"cache"`
	Aggregator struct {
		HistoryCapacity int           `yaml:"history_capacity" default:"200"`
		FetchTimeout    time.Duration `yaml:"fetch_timeout" default:"10s"`
		UpstreamLimit   int           `yaml:"upstream_limit" default:"5"`
		Warmup          bool          `yaml:"warmup" default:"true"`
	} `yaml:"aggregator"`
	Sources struct {
		EquityProvider string `yaml:"equity_provider" default:"yahoo"`
		Yahoo          struct {
			BaseURL     string        `yaml:"base_url" default:"https://query1.finance.yahoo.com"`
			MinInterval time.Duration `yaml:"min_interval" default:"200ms"`
			Timeout     time.Duration `yaml:"timeout" default:"8s"`
			Range       string        `yaml:"range" default:"1d"`
			Interval    string        `yaml:"interval" default:"5m"`
		} `yaml:"yahoo"`
		CoinGecko struct {
			BaseURL     string        `yaml:"base_url" default:"https://api.coingecko.com/api/v3"`
			APIKey      string        `yaml:"api_key"`
			MinInterval time.Duration `yaml:"min_interval" default:"1200ms"`
			Timeout     time.Duration `yaml:"timeout" default:"8s"`
		} `yaml:"coingecko"`
		Finnhub struct {
			BaseURL     string        `yaml:"base_url" default:"https://finnhub.io/api/v1"`
			APIKey      string        `yaml:"api_key"`
			MinInterval time.Duration `yaml:"min_interval" default:"1s"`
			Timeout     time.Duration `yaml:"timeout" default:"8s"`
		} `yaml:"finnhub"`
		Breaker struct {
			ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"5"`
			OpenTimeout         time.Duration `yaml:"open_timeout" default:"30s"`
			Interval            time.Duration `yaml:"interval" default:"1m"`
		} `yaml:"breaker"`
		Instruments []struct {
			Symbol     string `yaml:"symbol"`
			Name       string `yaml:"name"`
			Type       string `yaml:"type"`
			ProviderID string `yaml:"provider_id"`
		} `yaml:"instruments"`
	} `yaml:"sources"`
	Realtime struct {
		MaxClients          int           `yaml:"max_clients" default:"5000"`
		MaxSymbolsPerClient int           `yaml:"max_symbols_per_client" default:"50"`
		SendTimeout         time.Duration `yaml:"send_timeout" default:"1s"`
		PingInterval        time.Duration `yaml:"ping_interval" default:"25s"`
		PongWait            time.Duration `yaml:"pong_wait" default:"60s"`
		MaxMessageBytes     int64         `yaml:"max_message_bytes" default:"4096"`
	} `yaml:"realtime"`
	Backend struct {
		Type         string        `yaml:"type" default:"none"`
		BufferSize   int           `yaml:"buffer_size" default:"1000"`
		MaxRPS       int           `yaml:"max_rps" default:"10"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
		// retries per failed batch, with exponential backoff between min and max
		MaxRetries      int           `yaml:"max_retries" default:"3"`
		RetryBackoffMin time.Duration `yaml:"retry_backoff_min" default:"50ms"`
		RetryBackoffMax time.Duration `yaml:"retry_backoff_max" default:"2s"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"finpulse.quotes"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"finpulse-archiver"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finpulse"`
		Table            string        `yaml:"table" default:"quote_bars"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled       bool          `yaml:"enabled"`
		Addr          string        `yaml:"addr" default:"localhost:6379"`
		Password      string        `yaml:"password"`
		DB            int           `yaml:"db"`
		Prefix        string        `yaml:"prefix" default:"finpulse"`
		PoolSize      int           `yaml:"pool_size" default:"10"`
		L2Cache       bool          `yaml:"l2_cache"`
		Mirror        bool          `yaml:"mirror" default:"true"`
		MirrorChannel string        `yaml:"mirror_channel" default:"quotes"`
		Timeout       time.Duration `yaml:"timeout" default:"200ms"`
	} `yaml:"redis"`
}

// Default returns a config with every default applied and no file.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.Scheduler.Watchlist = DefaultWatchlist()
	return &c
}

// DefaultWatchlist is refreshed every tick even with no subscribers.
func DefaultWatchlist() []string {
	return []string{"AAPL", "GOOGL", "MSFT", "TSLA", "GC=F", "BITCOIN", "ETHEREUM", "SOLANA"}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func readFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(c.Scheduler.Watchlist) == 0 {
		c.Scheduler.Watchlist = DefaultWatchlist()
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("FINPULSE_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("FINPULSE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FINPULSE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("FINPULSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("FINPULSE_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FINPULSE_TICK_INTERVAL: %w", err)
		}
		c.Scheduler.Interval = d
	}
	if v := getenv("FINPULSE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FINPULSE_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	if v := getenv("WATCHLIST"); v != "" {
		c.Scheduler.Watchlist = util.NormalizeSymbols(v)
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Sources.Finnhub.APIKey = v
	}
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		c.Sources.CoinGecko.APIKey = v
	}
	if v := getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.StaleGrace < 0 {
		return fmt.Errorf("cache.stale_grace cannot be negative")
	}
	if c.Aggregator.HistoryCapacity <= 0 {
		return fmt.Errorf("aggregator.history_capacity must be positive")
	}
	if c.Aggregator.UpstreamLimit <= 0 {
		return fmt.Errorf("aggregator.upstream_limit must be positive")
	}
	if c.Aggregator.FetchTimeout <= 0 {
		return fmt.Errorf("aggregator.fetch_timeout must be positive")
	}
	switch c.Sources.EquityProvider {
	case "yahoo":
	case "finnhub":
		if c.Sources.Finnhub.APIKey == "" {
			return fmt.Errorf("sources.finnhub.api_key is required when equity_provider is finnhub")
		}
	default:
		return fmt.Errorf("sources.equity_provider must be 'yahoo' or 'finnhub', got '%s'", c.Sources.EquityProvider)
	}
	if c.Realtime.SendTimeout <= 0 {
		return fmt.Errorf("realtime.send_timeout must be positive")
	}
	if c.Realtime.MaxClients <= 0 {
		return fmt.Errorf("realtime.max_clients must be positive")
	}
	switch c.Backend.Type {
	case "none":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty when backend.type is kafka")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required when backend.type is clickhouse")
		}
	default:
		return fmt.Errorf("backend.type must be 'none', 'kafka' or 'clickhouse', got '%s'", c.Backend.Type)
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries cannot be negative")
	}
	if c.Backend.RetryBackoffMin > c.Backend.RetryBackoffMax {
		return fmt.Errorf("backend.retry_backoff_min must not exceed backend.retry_backoff_max")
	}
	if c.Kafka.Consumer.Enabled && (len(c.Kafka.Brokers) == 0 || c.ClickHouse.Host == "") {
		return fmt.Errorf("kafka.consumer requires kafka.brokers and clickhouse.host")
	}
	if c.Logging.Collect.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("logging.collect requires kafka.brokers")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
