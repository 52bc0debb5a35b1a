// Package config provides configuration management for the gateway.
// It loads configuration from environment variables with sensible defaults
// and validates it so the process refuses to start with an unsafe setup.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Optional log file path (stdout when empty)
//   - ADMIN_API_KEY: Key required in X-Admin-Key for /admin routes (routes disabled when empty)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//   - SHUTDOWN_TIMEOUT: Grace period for in-flight requests on shutdown (default: 30s)
//
// Downstream:
//   - DOWNSTREAM_URL: Base URL of the protected service (required)
//   - UPSTREAM_TIMEOUT: Timeout for buffered downstream calls (default: 30s)
//
// Authentication:
//   - JWT_SECRET: HMAC secret, or PEM public key for RS/PS/ES algorithms (required)
//   - JWT_ALGORITHM: Signing algorithm (default: HS256)
//   - JWT_AUDIENCE: Expected audience claim (required)
//   - JWT_ISSUER: Expected issuer claim (required)
//   - JWT_LEEWAY: Clock skew tolerance for exp (default: 0s)
//   - ALLOW_ANONYMOUS: Admit requests without a token keyed by client address (default: false)
//   - TRUST_PROXY_HEADERS: Use X-Forwarded-For / X-Real-IP for the client address (default: false)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_PER_MINUTE: Requests admitted per window (default: 60)
//   - RATE_LIMIT_WINDOW_SECONDS: Window length in seconds (default: 60)
//   - RATE_LIMIT_FAIL_OPEN: Admit requests when the store is unreachable (default: true)
//
// Redis Configuration:
//   - REDIS_HOST: Redis host (default: localhost)
//   - REDIS_PORT: Redis port (default: 6379)
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_TIMEOUT: Per-operation timeout (default: 2s)
//
// Response Cache:
//   - CACHE_ENABLED: Enable the response cache (default: true)
//   - CACHE_TTL: Entry lifetime in seconds (default: 300)
//
// Durations accept Go duration syntax ("2s", "1m") or a bare number of seconds.
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"api-gateway/internal/common/validation"
)

// SupportedAlgorithms lists the JWT signing algorithms accepted in JWT_ALGORITHM.
var SupportedAlgorithms = []string{
	"HS256", "HS384", "HS512",
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// Config holds all configuration values for the gateway.
//
// The configuration is loaded using Load() and should be validated with
// Validate() before use.
type Config struct {
	// Application settings
	Port        string
	LogLevel    string
	LogFile     string
	AdminAPIKey string
	TLSCertFile string
	TLSKeyFile  string

	ShutdownTimeout time.Duration

	// Downstream service
	DownstreamURL   string
	UpstreamTimeout time.Duration

	// JWT authentication
	JWTSecret         string
	JWTAlgorithm      string
	JWTAudience       string
	JWTIssuer         string
	JWTLeeway         time.Duration
	AllowAnonymous    bool
	TrustProxyHeaders bool

	// Rate limiting
	RateLimitEnabled   bool
	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitFailOpen  bool

	// Redis
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	RedisPoolSize int
	RedisTimeout  time.Duration

	// Response cache
	CacheEnabled bool
	CacheTTL     time.Duration

	// values that were set but could not be parsed
	parseErrors []error
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
// Unparseable values are remembered and reported by Validate.
func Load() *Config {
	c := &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),

		DownstreamURL: strings.TrimRight(getEnv("DOWNSTREAM_URL", ""), "/"),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTAlgorithm:      strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
		JWTAudience:       getEnv("JWT_AUDIENCE", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", ""),
		AllowAnonymous:    getBoolEnv("ALLOW_ANONYMOUS", false),
		TrustProxyHeaders: getBoolEnv("TRUST_PROXY_HEADERS", false),

		RateLimitEnabled:  getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitFailOpen: getBoolEnv("RATE_LIMIT_FAIL_OPEN", true),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		CacheEnabled: getBoolEnv("CACHE_ENABLED", true),
	}

	c.ShutdownTimeout = c.getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	c.UpstreamTimeout = c.getDurationEnv("UPSTREAM_TIMEOUT", 30*time.Second)
	c.JWTLeeway = c.getDurationEnv("JWT_LEEWAY", 0)

	c.RateLimitPerWindow = c.getIntEnv("RATE_LIMIT_PER_MINUTE", 60)
	c.RateLimitWindow = time.Duration(c.getIntEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second

	c.RedisPort = c.getIntEnv("REDIS_PORT", 6379)
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)
	c.RedisTimeout = c.getDurationEnv("REDIS_TIMEOUT", 2*time.Second)

	c.CacheTTL = time.Duration(c.getIntEnv("CACHE_TTL", 300)) * time.Second

	return c
}

// RedisAddress returns the host:port pair for the Redis client.
func (c *Config) RedisAddress() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// TLSEnabled reports whether the server should listen with TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// AdminEnabled reports whether the administrative routes should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings and falls back to
// defaultValue for anything else.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Errorf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Errorf("%s must be a duration (e.g. '2s', '1m'), got %q", key, value))
		return defaultValue
	}
	return parsed
}

// Validate checks required fields, formats and ranges. All failures are
// reported together as a single validation error.
func (c *Config) Validate() error {
	v := validation.NewValidator()

	for _, err := range c.parseErrors {
		parseErr := err
		v.Validate(func() error { return parseErr })
	}

	v.RequireURL(c.DownstreamURL, "DOWNSTREAM_URL").
		RequirePositiveDuration(c.UpstreamTimeout, "UPSTREAM_TIMEOUT").
		RequireString(c.JWTSecret, "JWT_SECRET").
		RequireString(c.JWTIssuer, "JWT_ISSUER").
		RequireString(c.JWTAudience, "JWT_AUDIENCE").
		RequireOneOf(c.JWTAlgorithm, SupportedAlgorithms, "JWT_ALGORITHM").
		RequireNonNegative(int(c.JWTLeeway/time.Second), "JWT_LEEWAY").
		RequireOneOf(strings.ToLower(c.LogLevel), []string{"debug", "info", "warn", "warning", "error"}, "LOG_LEVEL").
		Validate(func() error {
			if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
			}
			return nil
		})

	v.RequirePositiveDuration(c.ShutdownTimeout, "SHUTDOWN_TIMEOUT").
		ValidateIf((c.TLSCertFile == "") != (c.TLSKeyFile == ""), func() error {
			return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
		})

	v.RequireString(c.RedisHost, "REDIS_HOST").
		RequireRange(c.RedisPort, 1, 65535, "REDIS_PORT").
		RequireRange(c.RedisDB, 0, 15, "REDIS_DB").
		RequirePositive(c.RedisPoolSize, "REDIS_POOL_SIZE").
		RequirePositiveDuration(c.RedisTimeout, "REDIS_TIMEOUT")

	if c.RateLimitEnabled {
		v.RequirePositive(c.RateLimitPerWindow, "RATE_LIMIT_PER_MINUTE").
			RequirePositiveDuration(c.RateLimitWindow, "RATE_LIMIT_WINDOW_SECONDS")
	}

	if c.CacheEnabled {
		v.RequirePositiveDuration(c.CacheTTL, "CACHE_TTL")
	}

	return v.Error()
}
