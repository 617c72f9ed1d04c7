package config

import (
	"time"

	redisclient "github.com/vietddude/apiclient/internal/infra/redis"
	"github.com/vietddude/apiclient/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Transport TransportConfig    `yaml:"transport"`
	Retry     RetryConfig        `yaml:"retry"`
	Auth      AuthConfig         `yaml:"auth"`
	Cache     CacheConfig        `yaml:"cache"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	Warmer    WarmerConfig       `yaml:"warmer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TransportConfig holds HTTP transport settings.
type TransportConfig struct {
	BaseURL             string            `yaml:"base_url"`
	Timeout             time.Duration     `yaml:"timeout"`
	RequestTimeout      time.Duration     `yaml:"request_timeout"` // per attempt, 0 = none
	MaxIdleConns        int               `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int               `yaml:"max_idle_conns_per_host"`
	UserAgent           string            `yaml:"user_agent"`
	Headers             map[string]string `yaml:"headers"`
}

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      string        `yaml:"jitter"` // full, equal, none
}

// AuthConfig holds credential settings. Auth is disabled when AccessToken
// is empty.
type AuthConfig struct {
	AccessToken    string        `yaml:"access_token"`
	RefreshToken   string        `yaml:"refresh_token"`
	ExpiresIn      time.Duration `yaml:"expires_in"` // 0 = unknown expiry
	TokenURL       string        `yaml:"token_url"`
	ClientID       string        `yaml:"client_id"`
	ClientSecret   string        `yaml:"client_secret"`
	Scope          string        `yaml:"scope"`
	RefreshSkew    time.Duration `yaml:"refresh_skew"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	// RefreshCooldown delays another refresh after a transient failure. 0 = default, negative disables.
	RefreshCooldown time.Duration `yaml:"refresh_cooldown"`
}

// Enabled reports whether requests should carry a credential.
func (a AuthConfig) Enabled() bool {
	return a.AccessToken != ""
}

// CacheConfig holds repository and store settings.
type CacheConfig struct {
	Backend        string        `yaml:"backend"` // memory, redis, postgres
	Policy         string        `yaml:"policy"`
	TTL            time.Duration `yaml:"ttl"`
	MaxEntries     int           `yaml:"max_entries"`
	Retention      time.Duration `yaml:"retention"` // how long stale entries stay readable
	KeyPrefix      string        `yaml:"key_prefix"`
	ResourcePath   string        `yaml:"resource_path"` // keys map to <resource_path>/<key>
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// WarmerConfig holds cache warmer settings.
type WarmerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Keys     []string      `yaml:"keys"`
	Interval time.Duration `yaml:"interval"`
	Policy   string        `yaml:"policy"`
}

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)
