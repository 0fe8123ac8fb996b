package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "BOOK", cfg.Instrument)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 4096, cfg.Sequencer.QueueSize)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, 256, cfg.Session.OutboxSize)
	assert.Equal(t, 100, cfg.MarketData.HistorySize)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.NATS.Enabled())
	assert.Equal(t, "l2book.deltas", cfg.NATS.Subject)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadCORSOriginsFromEnv(t *testing.T) {
	tests := map[string][]string{
		"https://a.example,https://b.example":  {"https://a.example", "https://b.example"},
		"https://a.example, https://b.example": {"https://a.example", "https://b.example"},
		"https://a.example https://b.example":  {"https://a.example", "https://b.example"},
		"https://a.example":                    {"https://a.example"},
	}
	for env, want := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv("L2BOOK_CORS_ORIGINS", env)
			cfg, err := Load(nil)
			require.NoError(t, err)
			assert.Equal(t, want, cfg.CORSOrigins)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("L2BOOK_INSTRUMENT", "ACME")
	t.Setenv("L2BOOK_SESSION_IDLE_TIMEOUT", "30s")
	t.Setenv("L2BOOK_SESSION_OUTBOX_SIZE", "64")
	t.Setenv("L2BOOK_REDIS_ADDR", "localhost:6379")
	t.Setenv("L2BOOK_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "ACME", cfg.Instrument)
	assert.Equal(t, 30*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 64, cfg.Session.OutboxSize)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.NATS.Enabled())
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("L2BOOK_LISTEN_ADDR", ":7000")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)

	cfg, err = Load([]string{"--listen", ":7001", "--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load([]string{"--bogus"})
	assert.Error(t, err)

	t.Setenv("L2BOOK_SEQUENCER_QUEUE_SIZE", "0")
	_, err = Load(nil)
	assert.ErrorContains(t, err, "sequencer.queue_size")
}

func TestLoadClient(t *testing.T) {
	cfg, err := LoadClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/v1/stream", cfg.Server)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	t.Setenv("L2BOOK_SERVER", "ws://book:8080/v1/stream")
	cfg, err = LoadClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://book:8080/v1/stream", cfg.Server)

	cfg, err = LoadClient([]string{"--server", "ws://other/v1/stream"})
	require.NoError(t, err)
	assert.Equal(t, "ws://other/v1/stream", cfg.Server)
}
