package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/vyapaar-data")
	t.Setenv("LOW_STOCK_THRESHOLD", "7")
	t.Setenv("IMAP_SECURE", "off")
	t.Setenv("FORECAST_TOP", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vyapaar-data", cfg.DataDir)
	assert.Equal(t, 7, cfg.LowStockThreshold)
	assert.False(t, cfg.IMAPSecure)
	assert.Equal(t, 3, cfg.ForecastTop, "unparsable ints fall back to the default")
}

func TestRequire(t *testing.T) {
	var cfg Config
	assert.Error(t, cfg.Require("TWILIO_SID", "  "))
	assert.NoError(t, cfg.Require("TWILIO_SID", "AC123"))
}

func TestMaxUploadBytes(t *testing.T) {
	assert.Equal(t, int64(10<<20), Config{}.MaxUploadBytes())
	assert.Equal(t, int64(2<<20), Config{MaxUploadMB: 2}.MaxUploadBytes())
}
