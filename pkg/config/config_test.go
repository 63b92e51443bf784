package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanslai/thingy/pkg/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, -1, cfg.Adapter)
	assert.Zero(t, cfg.MTU)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, time.Second, cfg.Rate)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
scan_timeout: 5s
connect_timeout: 1m
adapter: 1
mtu: 185
output_format: json
rate: 250ms
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
	assert.Equal(t, time.Minute, cfg.ConnectTimeout)
	assert.Equal(t, 1, cfg.Adapter)
	assert.Equal(t, 185, cfg.MTU)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, 250*time.Millisecond, cfg.Rate)
}

func TestLoadPartialOverrideKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warning\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warning", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout, "unset fields MUST keep defaults")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "log_level: shouting\n"},
		{"bad duration", "scan_timeout: fast\n"},
		{"bad output format", "output_format: xml\n"},
		{"bad yaml", ":\n-\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "debug"

	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	cfg.LogLevel = "garbage"
	assert.Equal(t, logrus.InfoLevel, cfg.NewLogger().GetLevel(), "invalid level MUST fall back to info")
}
