// Package config loads application settings from environment variables,
// applying defaults, normalization and validation in one place. Everything
// the process needs lives here: server timeouts, logging, the SQLite path,
// the upstream model service, rate limiting, idempotency and tracing.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-support-backend/internal/sysutil"
)

// CORSConfig lists explicitly allowed browser origins. An empty list means
// the router falls back to its permissive development mode.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig carries the HSTS opt-in.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig holds OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-support-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig points the pipeline at its upstream model service. Timeout
// bounds a single attempt; RetryBaseDelay seeds the backoff between
// attempts.
type LLMConfig struct {
	BaseURL        string        // LLM_BASE_URL (e.g. "https://api.openai.com")
	APIKey         string        // LLM_API_KEY
	Model          string        // LLM_MODEL
	Timeout        time.Duration // LLM_TIMEOUT
	RetryBaseDelay time.Duration // LLM_RETRY_BASE_DELAY
}

// Config is the full application configuration.
type Config struct {
	// Server
	Port              string // port number only, no colon
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // console writer for local development
	SwaggerEnabled bool
	APIBasePath    string

	// App
	Environment     string // dev|staging|prod label, used on metrics
	DBPath          string // SQLite file path
	SeedDemo        bool   // install demo customers when the DB is empty
	MaxMessageRunes int    // inbound chat message length cap

	// Upstream model service
	LLM LLMConfig

	// Rate limiting
	RateRPS   float64 // tokens replenished per second
	RateBurst int     // bucket capacity, >= 1

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency replay window
	IdempotencyTTL time.Duration

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load for main(): it panics when validation fails, which is
// the right call before the server has even bound its port.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load assembles the configuration from the environment and validates it.
// Unset or blank variables take their defaults; malformed numeric and
// duration values also fall back rather than failing, so only genuinely
// out-of-range settings produce an error.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		Environment:     strings.ToLower(getenv("ENVIRONMENT", "dev")),
		DBPath:          getenv("DB_PATH", "support.db"),
		SeedDemo:        getbool("SEED_DEMO", true),
		MaxMessageRunes: getint("MAX_MESSAGE_RUNES", 2000),

		LLM: LLMConfig{
			BaseURL:        strings.TrimRight(getenv("LLM_BASE_URL", "https://api.openai.com"), "/"),
			APIKey:         getenv("LLM_API_KEY", ""),
			Model:          getenv("LLM_MODEL", "gpt-4o-mini"),
			Timeout:        getdur("LLM_TIMEOUT", 30*time.Second),
			RetryBaseDelay: getdur("LLM_RETRY_BASE_DELAY", 250*time.Millisecond),
		},

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-support-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if cfg.MaxMessageRunes <= 0 {
		return errors.New("MAX_MESSAGE_RUNES must be > 0")
	}
	if strings.TrimSpace(cfg.LLM.BaseURL) == "" {
		return errors.New("LLM_BASE_URL must not be empty")
	}
	if cfg.LLM.Timeout <= 0 {
		return errors.New("LLM_TIMEOUT must be > 0")
	}
	if cfg.LLM.RetryBaseDelay <= 0 {
		return errors.New("LLM_RETRY_BASE_DELAY must be > 0")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// Environment lookups. Blank counts as unset across the board, and parse
// failures quietly take the default.

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if sysutil.IsTruthy(v) {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath forces a leading slash and strips any trailing one,
// keeping bare "/" intact.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
