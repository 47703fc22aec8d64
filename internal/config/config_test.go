package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LINGOSTREAM_PROVIDER", "LINGOSTREAM_STREAM_TIMEOUT", "LINGOSTREAM_BATCH_CONCURRENCY", "LINGOSTREAM_BATCH_MAX_CONCURRENCY", "LINGOSTREAM_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, 90*time.Second, cfg.StreamTimeout)
	assert.Equal(t, 3, cfg.BatchConcurrency)
	assert.Equal(t, 16, cfg.BatchMaxConcurrency)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Greater(t, cfg.HoldTimeout, cfg.StreamTimeout, "reconciler must not refund live streams")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LINGOSTREAM_PROVIDER", "Bedrock")
	t.Setenv("LINGOSTREAM_STREAM_TIMEOUT", "15s")
	t.Setenv("LINGOSTREAM_BATCH_CONCURRENCY", "5")
	t.Setenv("LINGOSTREAM_BATCH_MAX_CONCURRENCY", "8")
	t.Setenv("LINGOSTREAM_CACHE", "REDIS")
	t.Setenv("LINGOSTREAM_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, ProviderBedrock, cfg.Provider)
	assert.Equal(t, 15*time.Second, cfg.StreamTimeout)
	assert.Equal(t, 5, cfg.BatchConcurrency)
	assert.Equal(t, 8, cfg.BatchMaxConcurrency)
	assert.Equal(t, BackendRedis, cfg.CacheBackend)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("LINGOSTREAM_BATCH_CONCURRENCY", "many")
	t.Setenv("LINGOSTREAM_STREAM_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 3, cfg.BatchConcurrency)
	assert.Equal(t, 90*time.Second, cfg.StreamTimeout)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestLoadPricing(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		p, err := LoadPricing("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPricing(), p)
	})

	t.Run("file overlays defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pricing.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
pre_charge_multiplier: 1.5
models:
  local-llama:
    base_cost: 1
    input_cost_per_1k: 0.1
    output_cost_per_1k: 0.2
`), 0o644))

		p, err := LoadPricing(path)
		require.NoError(t, err)
		assert.Equal(t, 1.5, p.PreChargeMultiplier)
		assert.Equal(t, float64(1000), p.USDToPoints)
		assert.Equal(t, ModelPrice{BaseCost: 1, InputCostPer1K: 0.1, OutputCostPer1K: 0.2}, p.For("local-llama"))
		assert.Equal(t, DefaultPricing().Models["gpt-4o"], p.For("gpt-4o"))
	})

	t.Run("unknown model uses default entry", func(t *testing.T) {
		p := DefaultPricing()
		assert.Equal(t, p.Default, p.For("mystery-model"))
	})

	t.Run("invalid multiplier rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pricing.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pre_charge_multiplier: 0.5\n"), 0o644))
		_, err := LoadPricing(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPricing(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("entry settled", "entry_id", "hold_1", "charged", 4)

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "entry settled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(file.Bytes()), &line))
	assert.Equal(t, "entry settled", line["msg"])
	assert.Equal(t, "hold_1", line["entry_id"])
}

func TestSetupLoggerFallsBackToStderr(t *testing.T) {
	logger, cleanup := SetupLogger(filepath.Join(t.TempDir(), "missing-dir", "x.log"), slog.LevelInfo)
	require.NotNil(t, logger)
	assert.NoError(t, cleanup())
}
