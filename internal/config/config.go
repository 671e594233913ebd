package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	HTTPSAddr string
	LogLevel  string

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	AccessLogRoutes      []string
	AccessLogQueryRoutes []string
	AccessLogStatusCodes []int
	DedupWindow          time.Duration
	DedupMode            string

	SessionSecret string
	SessionTTL    time.Duration
	SessionSecure bool
	OIDCIssuer    string
	OIDCClientID  string
	OIDCSecret    string
	OIDCRedirect  string
	UserEmailID   bool

	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	ArchiveInterval time.Duration

	RateLimit       int
	RateLimitWindow time.Duration
}

func Load() *Config {
	cfg := &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8443"),
		HTTPSAddr: getEnv("HTTPS_ADDR", ":9443"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		PostgresUser:     getEnv("POSTGRES_USER", "authlog"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "authlog"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		AccessLogRoutes:      getEnvList("ACCESS_LOG_ROUTES", nil),
		AccessLogQueryRoutes: getEnvList("ACCESS_LOG_QUERY_ROUTES", nil),
		AccessLogStatusCodes: getEnvIntList("ACCESS_LOG_STATUS_CODES", nil),
		DedupWindow:          getEnvDuration("ACCESS_LOG_DEDUP_WINDOW", time.Minute),
		DedupMode:            getEnv("ACCESS_LOG_DEDUP_MODE", "absolute"),

		SessionSecret: mustGetEnv("SESSION_SECRET"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 8*time.Hour),
		SessionSecure: getEnvBool("SESSION_SECURE", false),
		OIDCIssuer:    getEnv("OIDC_ISSUER", ""),
		OIDCClientID:  getEnv("OIDC_CLIENT_ID", ""),
		OIDCSecret:    getEnv("OIDC_CLIENT_SECRET", ""),
		OIDCRedirect:  getEnv("OIDC_REDIRECT_URL", ""),
		UserEmailID:   getEnvBool("USER_EMAIL_ID", false),

		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3AccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		ArchiveInterval: getEnvDuration("ARCHIVE_INTERVAL", 30*time.Minute),

		RateLimit:       getEnvInt("RATE_LIMIT", 100),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}

	if cfg.S3Bucket != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		panic("AWS credentials must be provided when S3_BUCKET is set")
	}

	return cfg
}

// OIDCEnabled reports whether enough settings are present to run the login flow.
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuer != "" && c.OIDCClientID != "" && c.OIDCRedirect != ""
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Missing required environment variable: " + key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getEnvIntList(key string, defaultValue []int) []int {
	items := getEnvList(key, nil)
	if items == nil {
		return defaultValue
	}
	var values []int
	for _, item := range items {
		if v, err := strconv.Atoi(item); err == nil {
			values = append(values, v)
		}
	}
	return values
}
