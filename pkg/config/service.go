package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig configures the dispatch service process
type ServiceConfig struct {
	// Server settings for the HTTP dispatch surface
	Server ServerConfig `yaml:"server" json:"server" mapstructure:"server"`
	// Log settings for the process-wide logger
	Log LogConfig `yaml:"log" json:"log" mapstructure:"log"`
	// Defaults applied to every connector instance unless overridden
	// per-create request
	Defaults DefaultsConfig `yaml:"defaults" json:"defaults" mapstructure:"defaults"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `yaml:"level" json:"level" mapstructure:"level"`
	Encoding    string `yaml:"encoding" json:"encoding" mapstructure:"encoding"`
	Development bool   `yaml:"development" json:"development" mapstructure:"development"`
}

// DefaultsConfig holds per-instance defaults
type DefaultsConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout" mapstructure:"request_timeout"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window" json:"rate_limit_window" mapstructure:"rate_limit_window"`
}

// LoadService loads the service configuration from an optional YAML file with
// MERIDIAN_-prefixed environment variable overrides (e.g. MERIDIAN_SERVER_ADDR).
func LoadService(path string) (*ServiceConfig, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8085")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", int64(1<<20))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("defaults.request_timeout", 30*time.Second)
	v.SetDefault("defaults.rate_limit_window", 60*time.Second)

	v.SetEnvPrefix("MERIDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg ServiceConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service config: %w", err)
	}

	if cfg.Server.Addr == "" {
		return nil, fmt.Errorf("server.addr is required")
	}

	return &cfg, nil
}
