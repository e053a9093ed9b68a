package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-analyzer/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC-USDT"}, cfg.Instruments)
	assert.Equal(t, model.Timeframe1h, cfg.FastTF)
	assert.Equal(t, model.Timeframe1d, cfg.SlowTF)
	assert.Equal(t, 14, cfg.Rsi.Period)
	assert.Equal(t, "30", cfg.Rsi.Oversold.String())
	assert.Equal(t, "70", cfg.Rsi.Overbought.String())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Second, cfg.LiveSaveInterval)
	assert.Equal(t, 10*time.Second, cfg.HistoricalSaveInterval)
	assert.Equal(t, []model.Timeframe{model.Timeframe1h, model.Timeframe1d}, cfg.Timeframes())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("INSTRUMENTS", "BTC-USDT,ETH-USDT")
	t.Setenv("FAST_TF", "15m")
	t.Setenv("SLOW_TF", "candle_4h")
	t.Setenv("RSI_PERIOD", "7")
	t.Setenv("RSI_OVERSOLD", "25.5")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SOURCE", "kafka")
	t.Setenv("STORE", "postgres")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, cfg.Instruments)
	assert.Equal(t, model.Timeframe15m, cfg.FastTF)
	assert.Equal(t, model.Timeframe4h, cfg.SlowTF)
	assert.Equal(t, 7, cfg.Rsi.Period)
	assert.Equal(t, "25.5", cfg.Rsi.Oversold.String())
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.BrokerList())
	assert.Equal(t, SourceKafka, cfg.Source)
	assert.Equal(t, StorePostgres, cfg.Store)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nSQLITE_PATH=/tmp/x.db\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("SQLITE_PATH")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string][2]string{
		"bad timeframe":    {"FAST_TF", "7m"},
		"fast not faster":  {"FAST_TF", "1d"},
		"unknown source":   {"SOURCE", "websocket"},
		"unknown store":    {"STORE", "mongo"},
		"non positive rsi": {"RSI_PERIOD", "0"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}
