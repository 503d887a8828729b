// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as mailbox polling, model access, booking provider credentials,
// conversation policy knobs, logging, database paths, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "email-assistant")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// GmailConfig holds mailbox access settings. The assistant authenticates
// with an OAuth2 refresh token issued for the mailbox owner.
type GmailConfig struct {
	Address      string // GMAIL_ADDRESS, the mailbox the assistant answers for
	ClientID     string // GMAIL_CLIENT_ID
	ClientSecret string // GMAIL_CLIENT_SECRET
	RefreshToken string // GMAIL_REFRESH_TOKEN
}

// CalConfig holds booking provider settings.
type CalConfig struct {
	APIKey        string // CAL_API_KEY
	Username      string // CAL_USERNAME
	EventTypeSlug string // CAL_EVENT_TYPE_SLUG
	DaysToCheck   int    // CAL_DAYS_TO_CHECK, availability lookahead
}

// EngineConfig holds language model settings.
type EngineConfig struct {
	APIKey      string        // GEMINI_API_KEY
	Model       string        // GEMINI_MODEL
	RPS         float64       // ENGINE_RPS, model calls per second (0 = unlimited)
	CallTimeout time.Duration // ENGINE_CALL_TIMEOUT
}

// PolicyConfig holds conversation policy knobs.
type PolicyConfig struct {
	MaxCustomerTurns  int           // MAX_CUSTOMER_TURNS (0 disables)
	MaxBookingRetries int           // MAX_BOOKING_RETRIES
	TerminalCooldown  time.Duration // TERMINAL_COOLDOWN (0 disables restarts)
}

// Config holds all configuration values for the application.
type Config struct {
	// Admin server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath       string        // SQLite path
	PollInterval time.Duration // time between inbox polls
	Timezone     string        // IANA zone for interpreting customer times

	Gmail  GmailConfig
	Cal    CalConfig
	Engine EngineConfig
	Policy PolicyConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Admin server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:       getenv("DB_PATH", "assistant.db"),
		PollInterval: getdur("POLL_INTERVAL", time.Minute),
		Timezone:     getenv("TIMEZONE", "Europe/Helsinki"),

		Gmail: GmailConfig{
			Address:      getenv("GMAIL_ADDRESS", ""),
			ClientID:     getenv("GMAIL_CLIENT_ID", ""),
			ClientSecret: getenv("GMAIL_CLIENT_SECRET", ""),
			RefreshToken: getenv("GMAIL_REFRESH_TOKEN", ""),
		},
		Cal: CalConfig{
			APIKey:        getenv("CAL_API_KEY", ""),
			Username:      getenv("CAL_USERNAME", ""),
			EventTypeSlug: getenv("CAL_EVENT_TYPE_SLUG", ""),
			DaysToCheck:   getint("CAL_DAYS_TO_CHECK", 14),
		},
		Engine: EngineConfig{
			APIKey:      getenv("GEMINI_API_KEY", ""),
			Model:       getenv("GEMINI_MODEL", "gemini-1.5-flash"),
			RPS:         getfloat("ENGINE_RPS", 1.0),
			CallTimeout: getdur("ENGINE_CALL_TIMEOUT", 45*time.Second),
		},
		Policy: PolicyConfig{
			MaxCustomerTurns:  getint("MAX_CUSTOMER_TURNS", 20),
			MaxBookingRetries: getint("MAX_BOOKING_RETRIES", 2),
			TerminalCooldown:  getdur("TERMINAL_COOLDOWN", 0),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "email-assistant"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.PollInterval < time.Second {
		return cfg, errors.New("POLL_INTERVAL must be at least 1s")
	}
	if strings.TrimSpace(cfg.Timezone) == "" {
		return cfg, errors.New("TIMEZONE must not be empty")
	}
	if cfg.Cal.DaysToCheck < 1 {
		return cfg, errors.New("CAL_DAYS_TO_CHECK must be >= 1")
	}
	if cfg.Engine.RPS < 0 {
		return cfg, errors.New("ENGINE_RPS must be >= 0")
	}
	if cfg.Engine.CallTimeout <= 0 {
		return cfg, errors.New("ENGINE_CALL_TIMEOUT must be > 0")
	}
	if cfg.Policy.MaxCustomerTurns < 0 {
		return cfg, errors.New("MAX_CUSTOMER_TURNS must be >= 0")
	}
	if cfg.Policy.MaxBookingRetries < 0 {
		return cfg, errors.New("MAX_BOOKING_RETRIES must be >= 0")
	}
	if cfg.Policy.TerminalCooldown < 0 {
		return cfg, errors.New("TERMINAL_COOLDOWN must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
