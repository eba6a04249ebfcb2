package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/internal/stats"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// Config represents the main configuration structure
type Config struct {
	Controller   ControllerConfig   `yaml:"controller"`
	Stats        StatsConfig        `yaml:"stats"`
	LoadBalancer LoadBalancerConfig `yaml:"load_balancer"`
	Admin        AdminConfig        `yaml:"admin"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ControllerConfig contains switch control settings
type ControllerConfig struct {
	VIP               string `yaml:"vip"`
	EvictOnDisconnect bool   `yaml:"evict_on_disconnect"`
	// Timeouts of learned flow rules in seconds, 0 means permanent
	FlowIdleTimeout uint16 `yaml:"flow_idle_timeout"`
	FlowHardTimeout uint16 `yaml:"flow_hard_timeout"`
}

// StatsConfig contains monitoring service settings
type StatsConfig struct {
	URL                  string        `yaml:"url"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second"`
}

// LoadBalancerConfig contains server selection settings
type LoadBalancerConfig struct {
	TieBreak        string `yaml:"tie_break"`
	NoServersPolicy string `yaml:"no_servers_policy"`
}

// AdminConfig contains admin API configuration
type AdminConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RateLimit caps requests per second per client. Zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration that behaves like the classic
// controller: VIP 10.0.0.100, no fetch timeout, no rate limit, bounded tie
// breaking, errors on an empty snapshot and no eviction on disconnect.
func DefaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			VIP: "10.0.0.100",
		},
		Stats: StatsConfig{
			URL: "http://192.168.152.179:8080/stats/servers/",
		},
		LoadBalancer: LoadBalancerConfig{
			TieBreak:        string(domain.TieBreakBounded),
			NoServersPolicy: string(domain.NoServersError),
		},
		Admin: AdminConfig{
			Enabled:      true,
			Port:         8081,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateBurst:    5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, cerrors.WrapError(err, cerrors.ErrCodeConfigLoad, "config",
			fmt.Sprintf("failed to read config file %s", filename))
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, cerrors.WrapError(err, cerrors.ErrCodeConfigLoad, "config",
			fmt.Sprintf("failed to parse config file %s", filename))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if _, err := c.VIPAddr(); err != nil {
		return invalid(err)
	}

	if c.Stats.URL == "" {
		return invalid(fmt.Errorf("stats.url cannot be empty"))
	}
	if c.Stats.Timeout < 0 {
		return invalid(fmt.Errorf("stats.timeout cannot be negative: %v", c.Stats.Timeout))
	}
	if c.Stats.MaxRequestsPerSecond < 0 {
		return invalid(fmt.Errorf("stats.max_requests_per_second cannot be negative: %v", c.Stats.MaxRequestsPerSecond))
	}

	if err := c.ToSelectionConfig().Validate(); err != nil {
		return invalid(err)
	}

	if c.Admin.Enabled && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		return invalid(fmt.Errorf("invalid admin port: %d", c.Admin.Port))
	}
	if c.Admin.RateLimit < 0 {
		return invalid(fmt.Errorf("admin.rate_limit cannot be negative: %v", c.Admin.RateLimit))
	}
	if c.Admin.RateLimit > 0 && c.Admin.RateBurst < 1 {
		return invalid(fmt.Errorf("admin.rate_burst must be at least 1 when rate limiting: %d", c.Admin.RateBurst))
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return invalid(fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return invalid(fmt.Errorf("invalid log format: %s", c.Logging.Format))
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return invalid(fmt.Errorf("invalid log output: %s", c.Logging.Output))
	}

	return nil
}

func invalid(err error) error {
	return cerrors.WrapError(err, cerrors.ErrCodeInvalidConfig, "config", "invalid configuration")
}

// VIPAddr parses the configured VIP
func (c *Config) VIPAddr() (net.IP, error) {
	ip := net.ParseIP(c.Controller.VIP)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("controller.vip must be an IPv4 address: %q", c.Controller.VIP)
	}
	return ip.To4(), nil
}

// ToSelectionConfig converts to the domain selection settings
func (c *Config) ToSelectionConfig() domain.SelectionConfig {
	return domain.SelectionConfig{
		TieBreak:  domain.TieBreakPolicy(c.LoadBalancer.TieBreak),
		NoServers: domain.NoServersPolicy(c.LoadBalancer.NoServersPolicy),
	}
}

// ToStatsConfig converts to the monitoring client settings
func (c *Config) ToStatsConfig() stats.Config {
	return stats.Config{
		URL:                  c.Stats.URL,
		Timeout:              c.Stats.Timeout,
		MaxRequestsPerSecond: c.Stats.MaxRequestsPerSecond,
	}
}

// ToLoggerConfig converts to the logger settings
func (c *Config) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
		File:   c.Logging.File,
	}
}

// YAML renders the configuration as it would be written to a file
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
