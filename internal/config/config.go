package config

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/theravoice/theravoice/internal/civiltime"
	"github.com/theravoice/theravoice/internal/logger"
)

// Config holds all configuration for the TheraVoice API process
type Config struct {
	// APIPort is the port the API server listens on
	APIPort string
	// AppointmentTimezone is the IANA zone appointment times are normalized into
	AppointmentTimezone string
	// SchedulerPollInterval is the longest the firing loop sleeps before re-checking the clock
	SchedulerPollInterval time.Duration
	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout time.Duration

	// JWTSecretKey signs access tokens (HS256)
	JWTSecretKey string
	// TokenTTL is the lifetime of an issued access token
	TokenTTL time.Duration

	// CORSAllowedOrigins lists origins allowed to call the API from a browser
	CORSAllowedOrigins []string
	// RateLimitRPS and RateLimitBurst configure the per-client token bucket
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies are peers whose X-Forwarded-For header identifies the client
	TrustedProxies []netip.Prefix

	// Mail is the outbound mail relay configuration
	Mail MailConfig

	// OpenAI configures the chat responder. An empty key selects canned replies.
	OpenAI OpenAIConfig

	// History configures the optional job outcome log
	History HistoryConfig

	// Logging configuration
	Logging *logger.Config
}

// MailConfig configures the SMTP relay. An empty host selects the log-only mailer.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds a single delivery, connect to QUIT
	Timeout time.Duration
}

// OpenAIConfig configures the OpenAI-backed chat responder
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// HistoryConfig configures the Redis-backed job history
type HistoryConfig struct {
	Enabled    bool
	RedisURL   string
	TTLSuccess time.Duration
	TTLFailure time.Duration
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8000"),
		AppointmentTimezone:   getEnv("APPOINTMENT_TIMEZONE", "America/Los_Angeles"),
		SchedulerPollInterval: getEnvAsDuration("SCHEDULER_POLL_INTERVAL", 1*time.Second),
		ShutdownTimeout:       getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		JWTSecretKey:          getEnv("JWT_SECRET_KEY", "your-secret-key"),
		TokenTTL:              getEnvAsDuration("TOKEN_TTL", 30*time.Minute),
		CORSAllowedOrigins: getEnvAsStringSlice("CORS_ALLOWED_ORIGINS",
			[]string{"http://localhost:5173", "http://localhost:5181"}),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
		Mail: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", "TheraVoice <no-reply@theravoice.app>"),
			Timeout:  getEnvAsDuration("SMTP_TIMEOUT", 30*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		History: HistoryConfig{
			Enabled:    getEnvAsBool("HISTORY_ENABLED", false),
			RedisURL:   getEnv("REDIS_URL", "redis://localhost:6379"),
			TTLSuccess: getEnvAsDuration("HISTORY_TTL_SUCCESS", 24*time.Hour),
			TTLFailure: getEnvAsDuration("HISTORY_TTL_FAILURE", 168*time.Hour),
		},
		Logging: loadLoggingConfig(),
	}

	proxies, err := parsePrefixes(getEnvAsStringSlice("TRUSTED_PROXIES", nil))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the process cannot start with
func (c *Config) Validate() error {
	if c.APIPort == "" {
		return fmt.Errorf("API_PORT cannot be empty")
	}
	if _, err := civiltime.LoadZone(c.AppointmentTimezone); err != nil {
		return fmt.Errorf("APPOINTMENT_TIMEZONE: %w", err)
	}
	if c.SchedulerPollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY cannot be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if slices.Contains(c.CORSAllowedOrigins, "*") {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS cannot contain \"*\": credentialed requests need explicit origins")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive and RATE_LIMIT_BURST at least 1")
	}
	if c.Mail.Host != "" && (c.Mail.Port < 1 || c.Mail.Port > 65535) {
		return fmt.Errorf("SMTP_PORT out of range: %d", c.Mail.Port)
	}
	if c.Mail.Host != "" && c.Mail.Timeout <= 0 {
		return fmt.Errorf("SMTP_TIMEOUT must be positive")
	}
	if c.History.Enabled {
		if c.History.RedisURL == "" {
			return fmt.Errorf("REDIS_URL cannot be empty when HISTORY_ENABLED is set")
		}
		if c.History.TTLSuccess <= 0 || c.History.TTLFailure <= 0 {
			return fmt.Errorf("history TTLs must be positive")
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice retrieves an environment variable as a comma-separated list
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// parsePrefixes accepts CIDRs and bare addresses; a bare address is a single-host prefix
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/theravoice/api.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	return cfg
}
