package config

import "fmt"

// DefaultAPIListen is the default API server listen address.
const DefaultAPIListen = ":8545"

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server APIServerConfig `yaml:"server"`
	Auth   APIAuthConfig   `yaml:"auth,omitempty"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Public  RateLimitTier `yaml:"public,omitempty"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings for destructive
// endpoints. The query surface itself is read-only and unauthenticated.
type APIAuthConfig struct {
	// AdminTokenHash is a bcrypt hash of the bearer token required for
	// run deletion. Deletion is disabled when empty.
	AdminTokenHash string `yaml:"admin_token_hash,omitempty"`
}

func (c *APIConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultAPIListen
	}

	if c.Server.RateLimit.Enabled &&
		c.Server.RateLimit.Public.RequestsPerMinute <= 0 {
		c.Server.RateLimit.Public.RequestsPerMinute = 120
	}
}

func (c *APIConfig) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("api.server.listen is required")
	}

	return nil
}
