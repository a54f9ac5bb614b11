package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearTradingEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"DATA_DIR", "GO_PORT", "LOG_LEVEL", "DEV_MODE",
		"MIN_BASIS_BPS", "MAX_POSITION_SIZE_BASE", "MAX_KELLY_FRACTION", "MAX_DRAWDOWN_PCT",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTradingEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 10.0, cfg.Trading.MinBasisBps)
	assert.Equal(t, 15.0, cfg.Trading.MinFundingAPRPct)
	assert.Equal(t, 0.25, cfg.Sizer.MaxKellyFraction)
	assert.True(t, cfg.Sizer.UseHalfKelly)
	assert.True(t, cfg.Paper.PaperTrading)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearTradingEnv(t)
	os.Setenv("MIN_BASIS_BPS", "25")
	os.Setenv("MAX_KELLY_FRACTION", "0.5")
	defer clearTradingEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.Trading.MinBasisBps)
	assert.Equal(t, 0.5, cfg.Sizer.MaxKellyFraction)
}

func TestValidate_RejectsNonPositiveMaxPosition(t *testing.T) {
	cfg := &Config{
		DataDir:   "./data",
		Trading:   TradingConfig{MaxPositionSizeBase: 0},
		Sizer:     SizerConfig{MaxKellyFraction: 0.25},
		Risk:      RiskConfig{MaxDrawdownPct: 5},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_RejectsOutOfRangeKelly(t *testing.T) {
	cfg := &Config{
		DataDir: "./data",
		Trading: TradingConfig{MaxPositionSizeBase: 1000},
		Sizer:   SizerConfig{MaxKellyFraction: 1.5},
		Risk:    RiskConfig{MaxDrawdownPct: 5},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_RejectsMissingDataDir(t *testing.T) {
	cfg := &Config{
		Trading: TradingConfig{MaxPositionSizeBase: 1000},
		Sizer:   SizerConfig{MaxKellyFraction: 0.25},
		Risk:    RiskConfig{MaxDrawdownPct: 5},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}
