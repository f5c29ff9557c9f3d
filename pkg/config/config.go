// Package config loads environment-driven settings and YAML strategy
// presets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signalist/internal/risk"
	"signalist/internal/strategy"
)

// Config holds environment-driven settings for the engine.
type Config struct {
	Port string

	// Database
	DBPath string

	// Sessions
	TickInterval     time.Duration
	SessionRetention time.Duration
	DefaultBalance   float64
	DefaultRiskPct   float64
	Currency         string
	MarginFraction   float64

	// Synthetic quote feed
	SyntheticSeed   int64
	SyntheticStart  float64
	SyntheticStep   float64
	SyntheticSpread float64

	// Execution
	MaxRetries       int
	RetryDelay       time.Duration
	ConfirmTimeout   time.Duration
	LatencyThreshold time.Duration
	MaxSpreadPct     float64
	MaxSlippagePct   float64

	// Presets
	PresetPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/signalist.db"),
		TickInterval:     getEnvDuration("TICK_INTERVAL", 5*time.Second),
		SessionRetention: getEnvDuration("SESSION_RETENTION", time.Hour),
		DefaultBalance:   getEnvFloat("DEFAULT_BALANCE", 10000),
		DefaultRiskPct:   getEnvFloat("DEFAULT_RISK_PCT", 1.0),
		Currency:         getEnv("CURRENCY", "USD"),
		MarginFraction:   getEnvFloat("MARGIN_FRACTION", 0.1),
		SyntheticSeed:    int64(getEnvInt("SYNTHETIC_SEED", 1)),
		SyntheticStart:   getEnvFloat("SYNTHETIC_START_PRICE", 100),
		SyntheticStep:    getEnvFloat("SYNTHETIC_STEP", 0.5),
		SyntheticSpread:  getEnvFloat("SYNTHETIC_SPREAD_PCT", 0.02),
		MaxRetries:       getEnvInt("EXEC_MAX_RETRIES", 3),
		RetryDelay:       getEnvDuration("EXEC_RETRY_DELAY", 500*time.Millisecond),
		ConfirmTimeout:   getEnvDuration("EXEC_CONFIRM_TIMEOUT", 10*time.Second),
		LatencyThreshold: getEnvDuration("EXEC_LATENCY_THRESHOLD", 2*time.Second),
		MaxSpreadPct:     getEnvFloat("EXEC_MAX_SPREAD_PCT", 0.15),
		MaxSlippagePct:   getEnvFloat("EXEC_MAX_SLIPPAGE_PCT", 0.1),
		PresetPath:       getEnv("PRESET_PATH", ""),
	}, nil
}

// Preset bundles strategy parameters, filters, and risk limits under a name.
type Preset struct {
	Strategy string           `yaml:"strategy"`
	Symbol   string           `yaml:"symbol"`
	Params   strategy.Params  `yaml:"params"`
	Filters  strategy.Filters `yaml:"filters"`
	Limits   *risk.Limits     `yaml:"limits"`
}

// LoadPresets reads a YAML file of named presets.
func LoadPresets(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var out map[string]Preset
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
