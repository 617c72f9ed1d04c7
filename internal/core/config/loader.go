package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expands environment variables and
// applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with only defaults set.
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (cfg *AppConfig) ApplyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 30 * time.Second
	}
	if cfg.Transport.UserAgent == "" {
		cfg.Transport.UserAgent = "apiclient/1.0"
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 4
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 5 * time.Second
	}
	if cfg.Retry.Jitter == "" {
		cfg.Retry.Jitter = "full"
	}

	if cfg.Auth.RefreshSkew == 0 {
		cfg.Auth.RefreshSkew = 30 * time.Second
	}
	if cfg.Auth.RefreshTimeout == 0 {
		cfg.Auth.RefreshTimeout = 30 * time.Second
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = BackendMemory
	}
	if cfg.Cache.Policy == "" {
		cfg.Cache.Policy = "cache_first"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1024
	}
	if cfg.Cache.Retention == 0 {
		cfg.Cache.Retention = 24 * time.Hour
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "apiclient:cache:"
	}
	if cfg.Cache.RefreshTimeout == 0 {
		cfg.Cache.RefreshTimeout = 30 * time.Second
	}

	if cfg.Warmer.Interval == 0 {
		cfg.Warmer.Interval = time.Minute
	}
	if cfg.Warmer.Policy == "" {
		cfg.Warmer.Policy = "network_first"
	}
}

// Validate checks cross-field constraints.
func (cfg *AppConfig) Validate() error {
	switch cfg.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Redis.URL == "" {
			return fmt.Errorf("cache backend redis requires redis.url")
		}
	case BackendPostgres:
		if cfg.Database.URL == "" {
			return fmt.Errorf("cache backend postgres requires database.url")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	switch cfg.Retry.Jitter {
	case "full", "equal", "none":
	default:
		return fmt.Errorf("unknown retry jitter %q", cfg.Retry.Jitter)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cfg.Auth.RefreshToken != "" && cfg.Auth.TokenURL == "" {
		return fmt.Errorf("auth.refresh_token requires auth.token_url")
	}
	return nil
}
