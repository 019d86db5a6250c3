package config

import (
	"reflect"
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
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_PATH", "db.sqlite")

	// Story generation
	t.Setenv("AI_API_KEY", "sk-test")
	t.Setenv("AI_MODEL", "openai/gpt-4o-mini")
	t.Setenv("AI_TEMPERATURE", "0.7")
	t.Setenv("AI_MAX_TOKENS", "2048")
	t.Setenv("AI_MAX_RETRIES", "4")
	t.Setenv("AI_RETRY_DELAY", "500ms")

	// Quota tiers
	t.Setenv("LIMIT_GUEST_DAILY", "2")
	t.Setenv("LIMIT_FREE_DAILY", "20")
	t.Setenv("LIMIT_PREMIUM_DAILY", "200")

	// Edge rate limiting (invalid values fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

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
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// App
	if cfg.DBPath != "db.sqlite" {
		t.Fatalf("db path unexpected: %+v", cfg)
	}

	// Story generation
	if cfg.AI.APIKey != "sk-test" || cfg.AI.Model != "openai/gpt-4o-mini" ||
		cfg.AI.Temperature != 0.7 || cfg.AI.MaxTokens != 2048 ||
		cfg.AI.MaxRetries != 4 || cfg.AI.RetryDelay != 500*time.Millisecond {
		t.Fatalf("ai fields unexpected: %+v", cfg.AI)
	}

	// Quota tiers
	if cfg.Limits.GuestDaily != 2 || cfg.Limits.FreeDaily != 20 || cfg.Limits.PremiumDaily != 200 {
		t.Fatalf("limits unexpected: %+v", cfg.Limits)
	}

	// Edge rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Idempotency
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "noisy"}, "LOG_LEVEL"},
		{"non-positive timeout", map[string]string{"READ_TIMEOUT": "-1s"}, "timeouts"},
		{"bad MAX_HEADER_BYTES", map[string]string{"MAX_HEADER_BYTES": "-5"}, "MAX_HEADER_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH"},
		{"temperature out of range", map[string]string{"AI_TEMPERATURE": "3.5"}, "AI_TEMPERATURE"},
		{"retries below one", map[string]string{"AI_MAX_RETRIES": "0"}, "AI_MAX_RETRIES"},
		{"negative retry delay", map[string]string{"AI_RETRY_DELAY": "-1s"}, "AI_RETRY_DELAY"},
		{"zero guest limit", map[string]string{"LIMIT_GUEST_DAILY": "0"}, "daily limits"},
		{"negative RATE_RPS", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"zero RATE_BURST", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"negative HSTS_MAX_AGE", map[string]string{"HSTS_MAX_AGE": "-1h"}, "HSTS_MAX_AGE"},
		{"zero IDEMPOTENCY_TTL", map[string]string{"IDEMPOTENCY_TTL": "-1s"}, "IDEMPOTENCY_TTL"},
		{"sampler out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_ParsingAndFallbacks(t *testing.T) {
	t.Setenv("S", "  ")
	if getenv("S", "d") != "  " {
		t.Fatalf("getenv should return non-empty values verbatim")
	}
	t.Setenv("F", "1.25")
	if getfloat("F", 0) != 1.25 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F", "oops")
	if getfloat("F", 2.5) != 2.5 {
		t.Fatalf("getfloat fallback failed")
	}
	t.Setenv("B", "off")
	if getbool("B", true) {
		t.Fatalf("getbool 'off' should be false")
	}
	t.Setenv("B", "maybe")
	if !getbool("B", true) {
		t.Fatalf("getbool unrecognized should use default")
	}
	t.Setenv("D", "90m")
	if getdur("D", 0) != 90*time.Minute {
		t.Fatalf("getdur parse failed")
	}

	if got := splitCSV(" a, ,b ,"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("splitCSV = %#v", got)
	}
	if splitCSV("") != nil {
		t.Fatalf("splitCSV empty should be nil")
	}

	for in, want := range map[string]string{
		"":        "/",
		"api":     "/api",
		"/api/":   "/api",
		"/":       "/",
		"/api/v1": "/api/v1",
	} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}
