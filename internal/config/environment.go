package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SDNLB_"

// LoadFromEnvironment returns the defaults with environment overrides applied
func LoadFromEnvironment() *Config {
	config := DefaultConfig()
	ApplyEnvironment(config)
	return config
}

// ApplyEnvironment overrides config with any SDNLB_* variables that are set.
// Values that do not parse are ignored.
func ApplyEnvironment(config *Config) {
	// Controller
	if vip := getEnv("VIP", ""); vip != "" {
		config.Controller.VIP = vip
	}

	if evict := getEnv("EVICT_ON_DISCONNECT", ""); evict != "" {
		config.Controller.EvictOnDisconnect = strings.ToLower(evict) == "true"
	}

	if idle := getEnv("FLOW_IDLE_TIMEOUT", ""); idle != "" {
		if t, err := strconv.ParseUint(idle, 10, 16); err == nil {
			config.Controller.FlowIdleTimeout = uint16(t)
		}
	}

	if hard := getEnv("FLOW_HARD_TIMEOUT", ""); hard != "" {
		if t, err := strconv.ParseUint(hard, 10, 16); err == nil {
			config.Controller.FlowHardTimeout = uint16(t)
		}
	}

	// Monitoring service
	if url := getEnv("STATS_URL", ""); url != "" {
		config.Stats.URL = url
	}

	config.Stats.Timeout = getEnvDuration("STATS_TIMEOUT", config.Stats.Timeout)

	if rps := getEnv("STATS_MAX_RPS", ""); rps != "" {
		if r, err := strconv.ParseFloat(rps, 64); err == nil && r >= 0 {
			config.Stats.MaxRequestsPerSecond = r
		}
	}

	// Server selection
	if policy := getEnv("TIE_BREAK", ""); policy != "" {
		config.LoadBalancer.TieBreak = policy
	}

	if policy := getEnv("NO_SERVERS_POLICY", ""); policy != "" {
		config.LoadBalancer.NoServersPolicy = policy
	}

	// Admin API
	if enabled := getEnv("ADMIN_ENABLED", ""); enabled != "" {
		config.Admin.Enabled = strings.ToLower(enabled) == "true"
	}

	if port := getEnvInt("ADMIN_PORT", 0); port > 0 && port <= 65535 {
		config.Admin.Port = port
	}

	if rps := getEnv("ADMIN_RATE_LIMIT", ""); rps != "" {
		if r, err := strconv.ParseFloat(rps, 64); err == nil && r >= 0 {
			config.Admin.RateLimit = r
		}
	}

	// Logging
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Logging.Level = level
	}

	if format := getEnv("LOG_FORMAT", ""); format != "" {
		config.Logging.Format = format
	}

	if output := getEnv("LOG_OUTPUT", ""); output != "" {
		config.Logging.Output = output
	}

	if file := getEnv("LOG_FILE", ""); file != "" {
		config.Logging.File = file
	}
}

// getEnv gets a prefixed environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets a prefixed environment variable as integer with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a prefixed environment variable as duration with fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LoadConfig loads configuration with priority: env vars > config file > defaults.
// path names the config file; when empty, CONFIG_FILE is used, falling back
// to config.yaml if it exists.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_FILE")
		explicit = path != ""
	}
	if path == "" {
		path = "config.yaml"
	}

	config := DefaultConfig()
	if _, err := os.Stat(path); err == nil || explicit {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	ApplyEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
