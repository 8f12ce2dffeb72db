// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	DatabaseURL string
	HTTPPort    string
	LogLevel    string

	JWTSecret    string
	JWTIssuer    string
	JWTExpiresIn time.Duration

	ResetTokenTTL      time.Duration
	ResetPurgeSchedule string
	FrontendURL        string

	MailFrom string
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string

	RedisURL           string
	RateLimitPerMinute int

	SeedFile      string
	AdminUsername string
	AdminEmail    string
	AdminPassword string
	AdminRole     string

	BcryptCost int

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
}

// Load reads a .env file when present and then the process environment.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", "gatekeeper"),
		JWTExpiresIn:       parseDuration(getEnv("JWT_EXPIRES_IN", "1h"), time.Hour),
		ResetTokenTTL:      parseDuration(getEnv("RESET_TOKEN_TTL", "1h"), time.Hour),
		ResetPurgeSchedule: getEnv("RESET_PURGE_SCHEDULE", "@every 15m"),
		FrontendURL:        strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		MailFrom:           getEnv("MAIL_FROM", "no-reply@gatekeeper.local"),
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           parseInt(getEnv("SMTP_PORT", "587"), 587),
		SMTPUser:           getEnv("SMTP_USER", ""),
		SMTPPass:           getEnv("SMTP_PASS", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		RateLimitPerMinute: parseInt(getEnv("RATE_LIMIT_PER_MINUTE", "20"), 20),
		SeedFile:           getEnv("SEED_FILE", ""),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminEmail:         getEnv("ADMIN_EMAIL", ""),
		AdminPassword:      getEnv("ADMIN_PASSWORD", ""),
		AdminRole:          getEnv("ADMIN_ROLE", "Admin"),
		BcryptCost:         parseInt(getEnv("BCRYPT_COST", "10"), 10),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:       parseBool(getEnv("OTEL_EXPORTER_OTLP_INSECURE", "false")),
		TraceSampleRatio:   parseFloat(getEnv("OTEL_TRACES_SAMPLE_RATIO", "1"), 1),
	}
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is empty"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is empty"))
	}
	if c.JWTExpiresIn <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRES_IN must be positive"))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_TTL must be positive"))
	}
	if c.AdminEmail != "" && (len(c.AdminPassword) < 8 || len(c.AdminPassword) > 72) {
		errs = append(errs, errors.New("ADMIN_PASSWORD must be 8-72 bytes when ADMIN_EMAIL is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func parseDuration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func parseInt(value string, def int) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return n
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}

func parseFloat(value string, def float64) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return f
}
