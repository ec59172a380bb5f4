// Package config loads marks settings from defaults, an optional config file
// and MARKS_* environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MARKS"

// Backend kinds.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Session store kinds.
const (
	SessionMemory = "memory"
	SessionDisk   = "disk"
	SessionRedis  = "redis"
)

type Config struct {
	ListenAddr      string        // ex: "127.0.0.1:8080"
	PublicURL       string        // base URL the browser uses, OAuth redirect is PublicURL + /auth/callback
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	Backend      string // memory | redis | postgres
	SessionStore string // memory | disk | redis
	SessionDir   string // diskv base path when SessionStore == disk
	SessionKey   string // key of this client's session in the store

	// Store sync
	RefreshAttempts int           // attempts per refresh (idempotent read retries)
	RefreshBackoff  time.Duration // initial wait between attempts, doubles each time
	ResyncInterval  time.Duration // periodic full refresh, 0 disables

	// Redis
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDT             time.Duration // dial timeout
	RedisRT             time.Duration // read timeout
	RedisWT             time.Duration // write timeout
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting
	RedisRetryInterval  time.Duration // initial wait between retries (grows exponentially)
	RedisMaxWait        time.Duration // max wait between retries
	RedisPingTimeout    time.Duration // timeout for each ping attempt
	RedisWarnThreshold  int           // warn after this many attempts

	// Postgres
	DatabaseURL      string
	DatabaseMaxConns int

	// OAuth (provider "google")
	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthUserInfoURL  string
	OAuthScopes       []string

	// Session tokens
	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // restrict access to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("shutdown_timeout", "5s")

	v.SetDefault("log_level", "info")
	v.SetDefault("pretty_log", "true")

	v.SetDefault("backend", BackendMemory)
	v.SetDefault("session_store", SessionMemory)
	v.SetDefault("session_dir", ".marks/session")
	v.SetDefault("session_key", "default")

	v.SetDefault("refresh_attempts", "3")
	v.SetDefault("refresh_backoff", "250ms")
	v.SetDefault("resync_interval", "5m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "default")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", "0")
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", "10")
	v.SetDefault("redis.connect_timeout", "30s")
	v.SetDefault("redis.retry_interval", "2s")
	v.SetDefault("redis.max_wait", "10s")
	v.SetDefault("redis.ping_timeout", "5s")
	v.SetDefault("redis.warn_threshold", "3")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", "4")

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.auth_url", "https://accounts.google.com/o/oauth2/auth")
	v.SetDefault("oauth.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("oauth.userinfo_url", "https://openidconnect.googleapis.com/v1/userinfo")
	v.SetDefault("oauth.scopes", "openid,email,profile")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "marks")
	v.SetDefault("session_ttl", "168h")

	v.SetDefault("allowed_hosts", "")
	v.SetDefault("allowed_cidrs", "127.0.0.1/32,::1/128")
	v.SetDefault("trust_proxy", "false")
}

// Load reads the optional file named by MARKS_CONFIG, then applies MARKS_*
// environment overrides (MARKS_REDIS_ADDR for redis.addr, and so on).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ListenAddr:      v.GetString("listen_addr"),
		PublicURL:       strings.TrimRight(v.GetString("public_url"), "/"),
		ShutdownTimeout: duration(v, "shutdown_timeout", 5*time.Second),

		LogLevel:  v.GetString("log_level"),
		PrettyLog: boolean(v, "pretty_log", true),

		Backend:      strings.ToLower(v.GetString("backend")),
		SessionStore: strings.ToLower(v.GetString("session_store")),
		SessionDir:   v.GetString("session_dir"),
		SessionKey:   v.GetString("session_key"),

		RefreshAttempts: integer(v, "refresh_attempts", 3),
		RefreshBackoff:  duration(v, "refresh_backoff", 250*time.Millisecond),
		ResyncInterval:  duration(v, "resync_interval", 5*time.Minute),

		RedisAddr:           v.GetString("redis.addr"),
		RedisUser:           v.GetString("redis.username"),
		RedisPassword:       v.GetString("redis.password"),
		RedisDB:             integer(v, "redis.db", 0),
		RedisDT:             duration(v, "redis.dial_timeout", 5*time.Second),
		RedisRT:             duration(v, "redis.read_timeout", 3*time.Second),
		RedisWT:             duration(v, "redis.write_timeout", 3*time.Second),
		RedisPoolSize:       integer(v, "redis.pool_size", 10),
		RedisConnectTimeout: duration(v, "redis.connect_timeout", 30*time.Second),
		RedisRetryInterval:  duration(v, "redis.retry_interval", 2*time.Second),
		RedisMaxWait:        duration(v, "redis.max_wait", 10*time.Second),
		RedisPingTimeout:    duration(v, "redis.ping_timeout", 5*time.Second),
		RedisWarnThreshold:  integer(v, "redis.warn_threshold", 3),

		DatabaseURL:      v.GetString("database.url"),
		DatabaseMaxConns: integer(v, "database.max_conns", 4),

		OAuthClientID:     v.GetString("oauth.client_id"),
		OAuthClientSecret: v.GetString("oauth.client_secret"),
		OAuthAuthURL:      v.GetString("oauth.auth_url"),
		OAuthTokenURL:     v.GetString("oauth.token_url"),
		OAuthUserInfoURL:  v.GetString("oauth.userinfo_url"),
		OAuthScopes:       list(v, "oauth.scopes"),

		JWTSecret:  v.GetString("jwt.secret"),
		JWTIssuer:  v.GetString("jwt.issuer"),
		SessionTTL: duration(v, "session_ttl", 168*time.Hour),

		AllowedHosts: list(v, "allowed_hosts"),
		AllowedCIDRS: list(v, "allowed_cidrs"),
		TrustProxy:   boolean(v, "trust_proxy", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("config: MARKS_REDIS_ADDR is required when MARKS_BACKEND=redis")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: MARKS_DATABASE_URL is required when MARKS_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}

	switch c.SessionStore {
	case SessionMemory:
	case SessionDisk:
		if c.SessionDir == "" {
			return errors.New("config: MARKS_SESSION_DIR is required when MARKS_SESSION_STORE=disk")
		}
	case SessionRedis:
		if c.RedisAddr == "" {
			return errors.New("config: MARKS_REDIS_ADDR is required when MARKS_SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("config: unknown session store %q", c.SessionStore)
	}

	// A persisted session must survive restarts, so the signing key cannot be random.
	if c.SessionStore != SessionMemory && c.JWTSecret == "" {
		return errors.New("config: MARKS_JWT_SECRET is required with a persistent session store")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("config: MARKS_JWT_SECRET must be at least 32 bytes")
	}
	if c.RefreshAttempts < 1 {
		return fmt.Errorf("config: MARKS_REFRESH_ATTEMPTS must be >= 1, got %d", c.RefreshAttempts)
	}
	return nil
}

// NeedsRedis reports whether any component connects to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Backend == BackendRedis || c.SessionStore == SessionRedis
}

// RedirectURL is the OAuth callback registered with the provider.
func (c *Config) RedirectURL() string {
	return c.PublicURL + "/auth/callback"
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	const mask = "***REDACTED***"
	if c.RedisPassword != "" {
		c.RedisPassword = mask
	}
	if c.DatabaseURL != "" {
		c.DatabaseURL = mask
	}
	if c.OAuthClientSecret != "" {
		c.OAuthClientSecret = mask
	}
	if c.JWTSecret != "" {
		c.JWTSecret = mask
	}
	return c
}

// helpers: invalid values fall back to the default rather than failing startup.

func duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(v.GetString(key)); err == nil {
		return d
	}
	return def
}

func boolean(v *viper.Viper, key string, def bool) bool {
	if b, err := strconv.ParseBool(v.GetString(key)); err == nil {
		return b
	}
	return def
}

func integer(v *viper.Viper, key string, def int) int {
	if i, err := strconv.Atoi(v.GetString(key)); err == nil {
		return i
	}
	return def
}

// list accepts a YAML list or a comma separated string.
func list(v *viper.Viper, key string) []string {
	switch raw := v.Get(key).(type) {
	case []interface{}, []string:
		return v.GetStringSlice(key)
	case string:
		return splitAndTrim(raw)
	default:
		return nil
	}
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
