package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer    string // Issuer claim for access tokens (default: lume-identity)
	TokenSeed string // Optional: base64url Ed25519 seed; empty generates an ephemeral key
	Pepper    string // Optional: server-side pepper mixed into password hashes
	StateKey  string // Optional: HMAC key for OAuth state tokens; empty generates one at boot

	DatabaseFile string // Path to SQLite database file (default: ./identity.db)

	RedisAddr     string // Optional: Redis address for the challenge cache; empty uses in-process memory
	RedisPassword string
	RedisDB       int

	AccessTokenTTL time.Duration // Access token lifetime (default: 15m)
	SessionTTL     time.Duration // Session/refresh lifetime (default: 720h)

	CookieName   string // Refresh cookie name (default: lume_refresh)
	CookieDomain string
	CookieSecure bool

	PublicBaseURL     string // External base URL, used for OAuth redirect URLs
	OAuthSuccessURL   string // Where successful OAuth callbacks land the browser
	OAuthErrorURL     string // Where failed OAuth callbacks land the browser
	GoogleClientID    string
	GoogleSecret      string
	MicrosoftClientID string
	MicrosoftSecret   string
	FacebookClientID  string
	FacebookSecret    string
	XClientID         string
	XSecret           string
	AppleClientID     string
	AppleSecret       string

	RPID          string   // WebAuthn relying-party id (default: localhost)
	RPOrigins     []string // WebAuthn allowed origins
	RPDisplayName string

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expiry sweep interval (default: 15m)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:    getEnvOrDefault("IDENTITY_ISSUER", "lume-identity"),
		TokenSeed: os.Getenv("IDENTITY_TOKEN_SEED"),
		Pepper:    os.Getenv("IDENTITY_PEPPER"),
		StateKey:  os.Getenv("IDENTITY_STATE_KEY"),

		DatabaseFile: getEnvOrDefault("IDENTITY_DATABASE_FILE", "identity.db"),

		RedisAddr:     os.Getenv("IDENTITY_REDIS_ADDR"),
		RedisPassword: os.Getenv("IDENTITY_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("IDENTITY_REDIS_DB", 0),

		AccessTokenTTL: getEnvDurationOrDefault("IDENTITY_ACCESS_TTL", 15*time.Minute),
		SessionTTL:     getEnvDurationOrDefault("IDENTITY_SESSION_TTL", 30*24*time.Hour),

		CookieName:   getEnvOrDefault("IDENTITY_COOKIE_NAME", "lume_refresh"),
		CookieDomain: os.Getenv("IDENTITY_COOKIE_DOMAIN"),
		CookieSecure: getEnvOrDefault("IDENTITY_COOKIE_SECURE", "true") == "true",

		PublicBaseURL:     getEnvOrDefault("IDENTITY_PUBLIC_BASE_URL", "http://localhost:8080"),
		OAuthSuccessURL:   getEnvOrDefault("IDENTITY_OAUTH_SUCCESS_URL", "/"),
		OAuthErrorURL:     getEnvOrDefault("IDENTITY_OAUTH_ERROR_URL", "/login"),
		GoogleClientID:    os.Getenv("IDENTITY_GOOGLE_CLIENT_ID"),
		GoogleSecret:      os.Getenv("IDENTITY_GOOGLE_SECRET"),
		MicrosoftClientID: os.Getenv("IDENTITY_MICROSOFT_CLIENT_ID"),
		MicrosoftSecret:   os.Getenv("IDENTITY_MICROSOFT_SECRET"),
		FacebookClientID:  os.Getenv("IDENTITY_FACEBOOK_CLIENT_ID"),
		FacebookSecret:    os.Getenv("IDENTITY_FACEBOOK_SECRET"),
		XClientID:         os.Getenv("IDENTITY_X_CLIENT_ID"),
		XSecret:           os.Getenv("IDENTITY_X_SECRET"),
		AppleClientID:     os.Getenv("IDENTITY_APPLE_CLIENT_ID"),
		AppleSecret:       os.Getenv("IDENTITY_APPLE_SECRET"),

		RPID:          getEnvOrDefault("IDENTITY_RP_ID", "localhost"),
		RPDisplayName: getEnvOrDefault("IDENTITY_RP_DISPLAY_NAME", "Lume"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 15*time.Minute),
	}

	if origins := os.Getenv("IDENTITY_RP_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.RPOrigins = append(cfg.RPOrigins, o)
			}
		}
	} else {
		cfg.RPOrigins = []string{cfg.PublicBaseURL}
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
