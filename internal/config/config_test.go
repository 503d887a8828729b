package config

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")

	// App
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("TIMEZONE", "Europe/Helsinki")

	// Mailbox
	t.Setenv("GMAIL_ADDRESS", "assistant@otl.fi")
	t.Setenv("GMAIL_CLIENT_ID", "cid")
	t.Setenv("GMAIL_CLIENT_SECRET", "cs")
	t.Setenv("GMAIL_REFRESH_TOKEN", "rt")

	// Booking
	t.Setenv("CAL_API_KEY", "cal_live_x")
	t.Setenv("CAL_USERNAME", "olli")
	t.Setenv("CAL_EVENT_TYPE_SLUG", "intro")
	t.Setenv("CAL_DAYS_TO_CHECK", "nope") // -> default 14

	// Engine
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-pro")
	t.Setenv("ENGINE_RPS", "x") // -> default 1.0
	t.Setenv("ENGINE_CALL_TIMEOUT", "20s")

	// Policy
	t.Setenv("MAX_CUSTOMER_TURNS", "8")
	t.Setenv("MAX_BOOKING_RETRIES", "3")
	t.Setenv("TERMINAL_COOLDOWN", "72h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging unexpected: %+v", cfg)
	}

	// App
	if cfg.DBPath != "db.sqlite" || cfg.PollInterval != 30*time.Second || cfg.Timezone != "Europe/Helsinki" {
		t.Fatalf("app fields unexpected: %+v", cfg)
	}

	// Mailbox
	if cfg.Gmail.Address != "assistant@otl.fi" || cfg.Gmail.ClientID != "cid" ||
		cfg.Gmail.ClientSecret != "cs" || cfg.Gmail.RefreshToken != "rt" {
		t.Fatalf("gmail fields unexpected: %+v", cfg.Gmail)
	}

	// Booking (parse fallback to default days)
	if cfg.Cal.APIKey != "cal_live_x" || cfg.Cal.Username != "olli" ||
		cfg.Cal.EventTypeSlug != "intro" || cfg.Cal.DaysToCheck != 14 {
		t.Fatalf("cal fields unexpected: %+v", cfg.Cal)
	}

	// Engine (parse fallback to default rps)
	if cfg.Engine.APIKey != "g-key" || cfg.Engine.Model != "gemini-1.5-pro" ||
		cfg.Engine.RPS != 1.0 || cfg.Engine.CallTimeout != 20*time.Second {
		t.Fatalf("engine fields unexpected: %+v", cfg.Engine)
	}

	// Policy
	if cfg.Policy.MaxCustomerTurns != 8 || cfg.Policy.MaxBookingRetries != 3 ||
		cfg.Policy.TerminalCooldown != 72*time.Hour {
		t.Fatalf("policy fields unexpected: %+v", cfg.Policy)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	t.Run("invalid LOG_LEVEL", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		if _, err := Load(); err == nil {
			t.Fatalf("expected LOG_LEVEL validation error")
		}
	})
	t.Run("empty PORT via spaces", func(t *testing.T) {
		t.Setenv("PORT", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "PORT must not be empty") {
			t.Fatalf("expected port validation error, got: %v", err)
		}
	})
	t.Run("non-positive timeouts", func(t *testing.T) {
		t.Setenv("READ_TIMEOUT", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "timeouts must be positive") {
			t.Fatalf("expected timeouts validation error, got: %v", err)
		}
	})
	t.Run("empty DB_PATH", func(t *testing.T) {
		t.Setenv("DB_PATH", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "DB_PATH must not be empty") {
			t.Fatalf("expected DB_PATH validation error, got: %v", err)
		}
	})
	t.Run("poll interval too short", func(t *testing.T) {
		t.Setenv("POLL_INTERVAL", "100ms")
		if _, err := Load(); err == nil || !containsErr(err, "POLL_INTERVAL") {
			t.Fatalf("expected POLL_INTERVAL validation error, got: %v", err)
		}
	})
	t.Run("empty TIMEZONE", func(t *testing.T) {
		t.Setenv("TIMEZONE", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "TIMEZONE") {
			t.Fatalf("expected TIMEZONE validation error, got: %v", err)
		}
	})
	t.Run("days to check < 1", func(t *testing.T) {
		t.Setenv("CAL_DAYS_TO_CHECK", "0")
		if _, err := Load(); err == nil || !containsErr(err, "CAL_DAYS_TO_CHECK") {
			t.Fatalf("expected CAL_DAYS_TO_CHECK validation error, got: %v", err)
		}
	})
	t.Run("engine rps negative", func(t *testing.T) {
		t.Setenv("ENGINE_RPS", "-1")
		if _, err := Load(); err == nil || !containsErr(err, "ENGINE_RPS") {
			t.Fatalf("expected ENGINE_RPS validation error, got: %v", err)
		}
	})
	t.Run("engine call timeout non-positive", func(t *testing.T) {
		t.Setenv("ENGINE_CALL_TIMEOUT", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "ENGINE_CALL_TIMEOUT") {
			t.Fatalf("expected ENGINE_CALL_TIMEOUT validation error, got: %v", err)
		}
	})
	t.Run("max customer turns negative", func(t *testing.T) {
		t.Setenv("MAX_CUSTOMER_TURNS", "-1")
		if _, err := Load(); err == nil || !containsErr(err, "MAX_CUSTOMER_TURNS") {
			t.Fatalf("expected MAX_CUSTOMER_TURNS validation error, got: %v", err)
		}
	})
	t.Run("max booking retries negative", func(t *testing.T) {
		t.Setenv("MAX_BOOKING_RETRIES", "-1")
		if _, err := Load(); err == nil || !containsErr(err, "MAX_BOOKING_RETRIES") {
			t.Fatalf("expected MAX_BOOKING_RETRIES validation error, got: %v", err)
		}
	})
	t.Run("terminal cooldown negative", func(t *testing.T) {
		t.Setenv("TERMINAL_COOLDOWN", "-1s")
		if _, err := Load(); err == nil || !containsErr(err, "TERMINAL_COOLDOWN") {
			t.Fatalf("expected TERMINAL_COOLDOWN validation error, got: %v", err)
		}
	})
	t.Run("otel sample ratio out of range", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
		if _, err := Load(); err == nil || !containsErr(err, "OTEL_TRACES_SAMPLER_ARG") {
			t.Fatalf("expected OTEL_TRACES_SAMPLER_ARG validation error, got: %v", err)
		}
	})
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + strconv.Itoa(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + strconv.Itoa(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func containsErr(err error, substr string) bool {
	return err != nil && strings.Contains(err.Error(), substr)
}
