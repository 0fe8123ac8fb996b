package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. L2BOOK_LISTEN_ADDR.
const EnvPrefix = "L2BOOK"

// Config holds the server configuration.
type Config struct {
	ListenAddr        string
	MetricsAddr       string
	Instrument        string
	LogLevel          string
	GinMode           string
	CORSOrigins       []string
	HeartbeatInterval time.Duration
	Sequencer         SequencerConfig
	Session           SessionConfig
	MarketData        MarketDataConfig
	Redis             RedisConfig
	NATS              NATSConfig
}

// SequencerConfig sizes the inbound command queue.
type SequencerConfig struct {
	QueueSize int
}

// SessionConfig bounds per-connection resources.
type SessionConfig struct {
	IdleTimeout  time.Duration
	OutboxSize   int
	HistorySize  int
	WriteTimeout time.Duration
}

// MarketDataConfig sizes the recent-delta history.
type MarketDataConfig struct {
	HistorySize int
}

// RedisConfig holds Redis connection settings. An empty Addr disables the mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether the Redis mirror should run.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// NATSConfig holds NATS settings. An empty URL disables delta republishing.
type NATSConfig struct {
	URL     string
	Subject string
}

// Enabled reports whether deltas are republished on NATS.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// ClientConfig holds the client configuration.
type ClientConfig struct {
	Server   string
	LogLevel string
	Timeout  time.Duration
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the server configuration from defaults, L2BOOK_* environment
// variables and command-line flags, in increasing order of precedence.
func Load(args []string) (*Config, error) {
	v := newViper()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("instrument", "BOOK")
	v.SetDefault("log_level", "info")
	v.SetDefault("gin_mode", "release")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("heartbeat_interval", 10*time.Second)

	v.SetDefault("sequencer.queue_size", 4096)

	v.SetDefault("session.idle_timeout", 5*time.Minute)
	v.SetDefault("session.outbox_size", 256)
	v.SetDefault("session.history_size", 32)
	v.SetDefault("session.write_timeout", 10*time.Second)

	v.SetDefault("marketdata.history_size", 100)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "l2book.deltas")

	fs := pflag.NewFlagSet("l2book-server", pflag.ContinueOnError)
	fs.String("listen", ":8080", "address to serve the API and WebSocket stream on")
	fs.String("metrics", ":9090", "address to serve Prometheus metrics on")
	fs.String("instrument", "BOOK", "instrument symbol of the book")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	for key, flag := range map[string]string{
		"listen_addr":  "listen",
		"metrics_addr": "metrics",
		"instrument":   "instrument",
		"log_level":    "log-level",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	cfg := &Config{
		ListenAddr:        v.GetString("listen_addr"),
		MetricsAddr:       v.GetString("metrics_addr"),
		Instrument:        v.GetString("instrument"),
		LogLevel:          v.GetString("log_level"),
		GinMode:           v.GetString("gin_mode"),
		CORSOrigins:       splitList(v.GetStringSlice("cors_origins")),
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
	}

	cfg.Sequencer = SequencerConfig{
		QueueSize: v.GetInt("sequencer.queue_size"),
	}

	cfg.Session = SessionConfig{
		IdleTimeout:  v.GetDuration("session.idle_timeout"),
		OutboxSize:   v.GetInt("session.outbox_size"),
		HistorySize:  v.GetInt("session.history_size"),
		WriteTimeout: v.GetDuration("session.write_timeout"),
	}

	cfg.MarketData = MarketDataConfig{
		HistorySize: v.GetInt("marketdata.history_size"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.NATS = NATSConfig{
		URL:     v.GetString("nats.url"),
		Subject: v.GetString("nats.subject"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList accepts comma- or space-separated values, e.g.
// L2BOOK_CORS_ORIGINS="https://a.example,https://b.example".
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("listen_addr must not be empty")
	case c.Instrument == "":
		return fmt.Errorf("instrument must not be empty")
	case c.Sequencer.QueueSize <= 0:
		return fmt.Errorf("sequencer.queue_size must be positive, got %d", c.Sequencer.QueueSize)
	case c.Session.OutboxSize <= 0:
		return fmt.Errorf("session.outbox_size must be positive, got %d", c.Session.OutboxSize)
	case c.Session.IdleTimeout < 0:
		return fmt.Errorf("session.idle_timeout must not be negative")
	}
	return nil
}

// LoadClient reads the client configuration.
func LoadClient(args []string) (*ClientConfig, error) {
	v := newViper()

	v.SetDefault("server", "ws://127.0.0.1:8080/v1/stream")
	v.SetDefault("log_level", "warn")
	v.SetDefault("timeout", 5*time.Second)

	fs := pflag.NewFlagSet("l2book-client", pflag.ContinueOnError)
	fs.String("server", "ws://127.0.0.1:8080/v1/stream", "WebSocket URL of the book server")
	fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	fs.Duration("timeout", 5*time.Second, "connect and command timeout")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	for key, flag := range map[string]string{
		"server":    "server",
		"log_level": "log-level",
		"timeout":   "timeout",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	cfg := &ClientConfig{
		Server:   v.GetString("server"),
		LogLevel: v.GetString("log_level"),
		Timeout:  v.GetDuration("timeout"),
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("server must not be empty")
	}
	return cfg, nil
}
