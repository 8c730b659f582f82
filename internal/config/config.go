// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, the
// generation-service connection, cache TTLs, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "quizgen-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// GenAIConfig defines the connection to the external generation service.
type GenAIConfig struct {
	Endpoint string        // GENAI_ENDPOINT (base URL, no trailing slash)
	Token    string        // GENAI_TOKEN (bearer token)
	CallerID string        // GENAI_CALLER_ID (deployment identifier)
	Timeout  time.Duration // GENAI_TIMEOUT per-call HTTP timeout
	Quality  string        // GENAI_QUALITY fast|balanced|best
}

// WindowConfig defines the request admission windows. A limit <= 0 disables
// that rule.
type WindowConfig struct {
	ActorHourly  int64    // WINDOW_ACTOR_HOURLY
	ActorDaily   int64    // WINDOW_ACTOR_DAILY
	SystemHourly int64    // WINDOW_SYSTEM_HOURLY
	ExemptActors []string // WINDOW_EXEMPT_ACTORS (CSV)
}

// CacheConfig defines the result cache TTL classes and the sweep cadence.
type CacheConfig struct {
	TopicAnalysisTTL time.Duration // CACHE_TOPIC_TTL
	QuestionGenTTL   time.Duration // CACHE_QUESTION_TTL
	DistractorGenTTL time.Duration // CACHE_DISTRACTOR_TTL
	SweepInterval    time.Duration // CACHE_SWEEP_INTERVAL
}

// DeployConfig defines the category hierarchy defaults for deployment.
type DeployConfig struct {
	TopCategory     string // DEPLOY_TOP_CATEGORY
	DefaultCategory string // DEPLOY_DEFAULT_CATEGORY
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath     string // SQLite path
	ContentDir string // directory holding per-scope source material (*.md)

	// Edge rate limiting (token bucket per client identity)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Admission windows (DB-backed trailing windows)
	Windows WindowConfig

	// Generation service
	GenAI GenAIConfig

	// Result cache
	Cache CacheConfig

	// Deployment
	Deploy DeployConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:     getenv("DB_PATH", "app.db"),
		ContentDir: getenv("CONTENT_DIR", "data/content"),

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Admission windows
		Windows: WindowConfig{
			ActorHourly:  getint64("WINDOW_ACTOR_HOURLY", 10),
			ActorDaily:   getint64("WINDOW_ACTOR_DAILY", 50),
			SystemHourly: getint64("WINDOW_SYSTEM_HOURLY", 100),
			ExemptActors: splitCSV(getenv("WINDOW_EXEMPT_ACTORS", "")),
		},

		// Generation service
		GenAI: GenAIConfig{
			Endpoint: getenv("GENAI_ENDPOINT", "http://localhost:9100"),
			Token:    getenv("GENAI_TOKEN", ""),
			CallerID: getenv("GENAI_CALLER_ID", "quizgen-backend"),
			Timeout:  getdur("GENAI_TIMEOUT", 120*time.Second),
			Quality:  strings.ToLower(getenv("GENAI_QUALITY", "balanced")),
		},

		// Result cache
		Cache: CacheConfig{
			TopicAnalysisTTL: getdur("CACHE_TOPIC_TTL", 7*24*time.Hour),
			QuestionGenTTL:   getdur("CACHE_QUESTION_TTL", 24*time.Hour),
			DistractorGenTTL: getdur("CACHE_DISTRACTOR_TTL", 24*time.Hour),
			SweepInterval:    getdur("CACHE_SWEEP_INTERVAL", time.Hour),
		},

		// Deployment
		Deploy: DeployConfig{
			TopCategory:     getenv("DEPLOY_TOP_CATEGORY", "Generated Questions"),
			DefaultCategory: getenv("DEPLOY_DEFAULT_CATEGORY", "Default"),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "quizgen-backend"),
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
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.ContentDir) == "" {
		return cfg, errors.New("CONTENT_DIR must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if strings.TrimSpace(cfg.GenAI.Endpoint) == "" {
		return cfg, errors.New("GENAI_ENDPOINT must not be empty")
	}
	switch cfg.GenAI.Quality {
	case "fast", "balanced", "best":
	default:
		return cfg, errors.New("GENAI_QUALITY must be one of: fast, balanced, best")
	}
	if cfg.GenAI.Timeout <= 0 {
		return cfg, errors.New("GENAI_TIMEOUT must be > 0")
	}
	if cfg.Cache.TopicAnalysisTTL <= 0 || cfg.Cache.QuestionGenTTL <= 0 || cfg.Cache.DistractorGenTTL <= 0 {
		return cfg, errors.New("cache TTLs must be positive durations")
	}
	if cfg.Cache.SweepInterval <= 0 {
		return cfg, errors.New("CACHE_SWEEP_INTERVAL must be > 0")
	}
	if strings.TrimSpace(cfg.Deploy.TopCategory) == "" || strings.TrimSpace(cfg.Deploy.DefaultCategory) == "" {
		return cfg, errors.New("deployment category names must not be empty")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
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

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
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
