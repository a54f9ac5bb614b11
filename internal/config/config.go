// Package config loads the trading core's environment-driven configuration surface.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// TradingConfig names the open-signal thresholds of §6's "trading" section.
type TradingConfig struct {
	MinBasisBps        float64
	MinFundingAPRPct   float64
	CloseThresholdBps  float64
	MaxLeverage        float64
	MaxPositionSizeBase float64
	MinTradeIntervalS  int
}

// RiskConfig names the circuit-breaker thresholds of §6's "risk" section.
type RiskConfig struct {
	MaxDrawdownPct         float64
	StopLossPct            float64
	HedgeDriftThresholdPct float64
	MaxDailyLossQuote      float64
	MaxErrorsPerHour       int
}

// RebalanceConfig names the rate-limited rebalancing section.
type RebalanceConfig struct {
	CheckIntervalS        int
	MinRebalanceBase      float64
	MaxRebalancesPerHour  int
}

// SizerConfig names the Adaptive Sizer's Kelly-fraction parameters.
type SizerConfig struct {
	EnableAdaptiveSizing    bool
	MinTradesForAdaptation int
	MaxKellyFraction        float64
	UseHalfKelly            bool
	InitialBaseFraction     float64
}

// ReversalConfig names the Reversal Detector's enablement switches.
type ReversalConfig struct {
	EnableReversalDetection       bool
	ForceCloseOnCriticalReversal bool
}

// PaperConfig names the paper-trading simulator's cost model.
type PaperConfig struct {
	PaperTrading        bool
	SimulatedSlippageBps float64
	SimulatedFeeBps      float64
}

// Config holds the full, immutable-after-load application configuration.
type Config struct {
	DataDir  string
	Port     int
	LogLevel string
	DevMode  bool

	Trading   TradingConfig
	Risk      RiskConfig
	Rebalance RebalanceConfig
	Sizer     SizerConfig
	Reversal  ReversalConfig
	Paper     PaperConfig
}

// Load reads configuration from environment variables (and an optional .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		if _, err := os.Stat("./data"); err == nil {
			dataDir = "./data"
		} else {
			dataDir = "./data"
		}
	}

	cfg := &Config{
		DataDir:  dataDir,
		Port:     getEnvAsInt("GO_PORT", 8090),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		Trading: TradingConfig{
			MinBasisBps:         getEnvAsFloat("MIN_BASIS_BPS", 10),
			MinFundingAPRPct:    getEnvAsFloat("MIN_FUNDING_APR_PCT", 15),
			CloseThresholdBps:   getEnvAsFloat("CLOSE_THRESHOLD_BPS", 5),
			MaxLeverage:         getEnvAsFloat("MAX_LEVERAGE", 3),
			MaxPositionSizeBase: getEnvAsFloat("MAX_POSITION_SIZE_BASE", 1000),
			MinTradeIntervalS:   getEnvAsInt("MIN_TRADE_INTERVAL_S", 300),
		},
		Risk: RiskConfig{
			MaxDrawdownPct:         getEnvAsFloat("MAX_DRAWDOWN_PCT", 5),
			StopLossPct:            getEnvAsFloat("STOP_LOSS_PCT", 2),
			HedgeDriftThresholdPct: getEnvAsFloat("HEDGE_DRIFT_THRESHOLD_PCT", 2),
			MaxDailyLossQuote:      getEnvAsFloat("MAX_DAILY_LOSS_QUOTE", 1000),
			MaxErrorsPerHour:       getEnvAsInt("MAX_ERRORS_PER_HOUR", 20),
		},
		Rebalance: RebalanceConfig{
			CheckIntervalS:       getEnvAsInt("REBALANCE_CHECK_INTERVAL_S", 1),
			MinRebalanceBase:     getEnvAsFloat("MIN_REBALANCE_BASE", 0.5),
			MaxRebalancesPerHour: getEnvAsInt("MAX_REBALANCES_PER_HOUR", 6),
		},
		Sizer: SizerConfig{
			EnableAdaptiveSizing:    getEnvAsBool("ENABLE_ADAPTIVE_SIZING", true),
			MinTradesForAdaptation: getEnvAsInt("MIN_TRADES_FOR_ADAPTATION", 10),
			MaxKellyFraction:        getEnvAsFloat("MAX_KELLY_FRACTION", 0.25),
			UseHalfKelly:            getEnvAsBool("USE_HALF_KELLY", true),
			InitialBaseFraction:     getEnvAsFloat("INITIAL_BASE_FRACTION", 0.20),
		},
		Reversal: ReversalConfig{
			EnableReversalDetection:       getEnvAsBool("ENABLE_REVERSAL_DETECTION", true),
			ForceCloseOnCriticalReversal: getEnvAsBool("FORCE_CLOSE_ON_CRITICAL_REVERSAL", true),
		},
		Paper: PaperConfig{
			PaperTrading:         getEnvAsBool("PAPER_TRADING", true),
			SimulatedSlippageBps: getEnvAsFloat("SIMULATED_SLIPPAGE_BPS", 2),
			SimulatedFeeBps:      getEnvAsFloat("SIMULATED_FEE_BPS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and internally consistent.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Trading.MaxPositionSizeBase <= 0 {
		return fmt.Errorf("MAX_POSITION_SIZE_BASE must be positive")
	}
	if c.Sizer.MaxKellyFraction <= 0 || c.Sizer.MaxKellyFraction > 1 {
		return fmt.Errorf("MAX_KELLY_FRACTION must be in (0, 1]")
	}
	if c.Risk.MaxDrawdownPct <= 0 {
		return fmt.Errorf("MAX_DRAWDOWN_PCT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
