package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/pairing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.StepTimeout)
	assert.Equal(t, 5*time.Second, cfg.OpTimeout)
	assert.Equal(t, pairing.DefaultSyncSize, cfg.SyncSize)
	assert.Equal(t, "fixed28", cfg.PeerKeyLayout)
	assert.False(t, cfg.LegacyCommand)
	assert.Equal(t, 256, cfg.RecordBuffer)
	assert.Equal(t, "text", cfg.OutputFormat)
	assert.Equal(t, RetryConfig{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: 30 * time.Second}, cfg.Retry)
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		cfg, err := Parse([]byte(`
log_level: debug
step_timeout: 2s
sync_size: 100
peer_key_layout: full
legacy_command: true
retry:
  max_attempts: 5
`))
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 2*time.Second, cfg.StepTimeout)
		assert.Equal(t, 100, cfg.SyncSize)
		assert.True(t, cfg.LegacyCommand)
		assert.Equal(t, 5, cfg.Retry.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Retry.InitialInterval, "unset nested fields keep defaults")
		assert.Equal(t, 5*time.Second, cfg.OpTimeout)

		layout, err := cfg.Layout()
		require.NoError(t, err)
		assert.Equal(t, pairing.LayoutFull, layout)
	})

	t.Run("empty document", func(t *testing.T) {
		cfg, err := Parse(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Parse([]byte("sync_size: [1"))
		assert.ErrorContains(t, err, "failed to parse config")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "smallest sync size", mutate: func(c *Config) { c.SyncSize = 61 }},
		{name: "sync size inside reserved records", mutate: func(c *Config) { c.SyncSize = 60 }, wantErr: "sync_size 60"},
		{name: "unknown layout", mutate: func(c *Config) { c.PeerKeyLayout = "packed" }, wantErr: "unknown peer key layout"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "invalid log_level"},
		{name: "negative timeout", mutate: func(c *Config) { c.StepTimeout = -time.Second }, wantErr: "negative"},
		{name: "zero record buffer", mutate: func(c *Config) { c.RecordBuffer = 0 }, wantErr: "record_buffer"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "csv output", mutate: func(c *Config) { c.OutputFormat = "csv" }, wantErr: "output format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "cgmlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_format: json\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.OutputFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestConfig_NewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			cfg := &Config{LogLevel: level}
			logger := cfg.NewLogger()

			want, err := logrus.ParseLevel(level)
			require.NoError(t, err)
			assert.Equal(t, want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_PairingSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeerKeyLayout = "length-dependent"
	cfg.LegacyCommand = true

	assert.Equal(t, pairing.RunnerConfig{StepTimeout: 10 * time.Second, OpTimeout: 5 * time.Second, RecordBuffer: 256}, cfg.RunnerConfig())
	assert.Equal(t, pairing.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: 30 * time.Second}, cfg.RetryPolicy())

	logger := logrus.New()
	opts := cfg.MachineOptions(logger)
	assert.Equal(t, pairing.LayoutLengthDependent, opts.Layout)
	assert.True(t, opts.LegacyCommand)
	assert.Equal(t, 360, opts.SyncSize)
	assert.Same(t, logger, opts.Logger)
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
