// Package config provides the unified configuration system for Meridian.
// It defines a single BaseConfig structure that all connectors use, ensuring
// consistent configuration across the entire system.
//
// The configuration is organized into logical sections:
//   - Timeouts: Connection and request timeouts for provider calls
//   - Reliability: Rate limit window settings
//   - Security: Credential bundles (opaque, platform-shaped, never logged)
//   - Observability: Metrics and logging settings
//
// Example usage:
//
//	cfg := config.NewBaseConfig("my-page", "meta_ads")
//	cfg.Security.Credentials["access_token"] = token
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// BaseConfig is the single unified configuration structure that all
// connectors use. Platform connectors read their credential bundle from the
// Security section and their throttle settings from the Reliability section.
type BaseConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name"`
	// Platform specifies the platform the connector talks to
	Platform string `yaml:"platform" json:"platform"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// Timeouts define outbound call timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for local throttling
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Security configuration holding the credential bundle
	Security SecurityConfig `yaml:"security" json:"security"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// TimeoutConfig contains all timeout-related settings. Every outbound
// provider call carries an explicit timeout so a stalled provider cannot
// block dispatch indefinitely.
type TimeoutConfig struct {
	// Request timeout for individual provider operations
	Request time.Duration `yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// MediaFetch timeout for downloading caller-supplied media sources
	MediaFetch time.Duration `yaml:"media_fetch" json:"media_fetch"`
	// KeepAlive interval for connection health checks
	KeepAlive time.Duration `yaml:"keep_alive" json:"keep_alive"`
}

// ReliabilityConfig contains the local throttle settings. The sliding window
// is advisory throttling on our side, not a substitute for honoring
// provider-returned retry hints.
type ReliabilityConfig struct {
	// RateLimitWindow is the sliding window length
	RateLimitWindow time.Duration `yaml:"rate_limit_window" json:"rate_limit_window"`
	// RateLimitMaxCalls is the number of calls permitted per window and
	// operation (0 = platform default)
	RateLimitMaxCalls int `yaml:"rate_limit_max_calls" json:"rate_limit_max_calls"`
}

// SecurityConfig holds the platform-shaped credential bundle. Required-field
// presence is validated by each connector at initialize time; semantic
// validity is established by the authentication probe.
type SecurityConfig struct {
	// AuthType specifies authentication method (api_key, bearer, oauth2)
	AuthType string `yaml:"auth_type" json:"auth_type"`
	// Credentials stores the opaque credential bundle. Never logged.
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
}

// ObservabilityConfig contains monitoring and observability settings
type ObservabilityConfig struct {
	// EnableMetrics activates metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableLogging controls logging output
	EnableLogging bool `yaml:"enable_logging" json:"enable_logging"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewBaseConfig creates a new BaseConfig with sensible defaults.
//
// Parameters:
//   - name: The connector instance name
//   - platform: The platform identifier (e.g., "meta_ads", "shopify")
func NewBaseConfig(name, platform string) *BaseConfig {
	return &BaseConfig{
		Name:     name,
		Platform: platform,
		Version:  "1.0.0",
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
			MediaFetch: 60 * time.Second,
			KeepAlive:  30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RateLimitWindow:   60 * time.Second,
			RateLimitMaxCalls: 0, // platform default
		},
		Security: SecurityConfig{
			Credentials: make(map[string]string),
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableLogging: true,
			LogLevel:      "info",
		},
	}
}

// Validate validates the configuration for correctness
func (bc *BaseConfig) Validate() error {
	if bc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if bc.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if bc.Reliability.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	if bc.Reliability.RateLimitMaxCalls < 0 {
		return fmt.Errorf("rate_limit_max_calls cannot be negative")
	}
	if bc.Timeouts.Request <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}

// HasCredentials returns true if credentials are configured
func (s *SecurityConfig) HasCredentials() bool {
	return len(s.Credentials) > 0
}

// Credential returns a credential field and whether it is present and
// non-empty.
func (s *SecurityConfig) Credential(key string) (string, bool) {
	v, ok := s.Credentials[key]
	return v, ok && v != ""
}
