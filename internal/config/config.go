// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/sahayak/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	LogLevel           string
	CatalogPath        string // empty uses the embedded catalog
	ToolTimeout        time.Duration
	MaxRequestBodySize int64
	Telemetry          TelemetryConfig
	Dialogue           DialogueConfig
	Retriever          RetrieverConfig
	Session            SessionConfig
	LLM                LLMConfig
	RateLimit          RateLimitConfig
}

// TelemetryConfig controls the turn audit trail.
type TelemetryConfig struct {
	Enabled   bool
	QueueSize int
	Retention time.Duration
}

// DialogueConfig tunes the turn loop.
type DialogueConfig struct {
	DefaultLanguage     string
	ConfidenceThreshold float64
	MaxReplans          int
	TransientRetries    int
	ConversationWindow  int
	MinProfileFields    int
	Tolerances          map[domain.Field]float64
}

// RetrieverConfig tunes fuzzy scheme search.
type RetrieverConfig struct {
	MinSimilarity float64
	Limit         int
}

// SessionConfig bounds live sessions.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepSchedule string
	MaxSessions   int
}

// LLMConfig selects the language-model backend.
type LLMConfig struct {
	Provider     string // rules, gemini or grpc
	Timeout      time.Duration
	GeminiAPIKey string
	GeminiModel  string
	GRPCAddr     string
	Rewrite      bool
}

// RateLimitConfig bounds turns per client.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

const defaultTolerances = "age=1,income=10000,land_size=0.5,family_size=0"

var supportedLanguages = []string{"tamil", "english"}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	tolerances, err := ParseTolerances(getEnv("PROFILE_TOLERANCES", defaultTolerances))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/sahayak.db"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		CatalogPath:        getEnv("SCHEME_CATALOG_PATH", ""),
		ToolTimeout:        getEnvDuration("TOOL_TIMEOUT", 3*time.Second),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 64*1024)),
		Telemetry: TelemetryConfig{
			Enabled:   getEnvBool("TELEMETRY_ENABLED", true),
			QueueSize: getEnvInt("TELEMETRY_QUEUE_SIZE", 1000),
			Retention: getEnvDuration("TELEMETRY_RETENTION", 168*time.Hour),
		},
		Dialogue: DialogueConfig{
			DefaultLanguage:     strings.ToLower(getEnv("DEFAULT_LANGUAGE", "tamil")),
			ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
			MaxReplans:          getEnvInt("MAX_REPLANS", 2),
			TransientRetries:    getEnvInt("TRANSIENT_RETRIES", 1),
			ConversationWindow:  getEnvInt("CONVERSATION_WINDOW", 20),
			MinProfileFields:    getEnvInt("MIN_PROFILE_FIELDS", 2),
			Tolerances:          tolerances,
		},
		Retriever: RetrieverConfig{
			MinSimilarity: getEnvFloat("RETRIEVER_MIN_SIMILARITY", 0.3),
			Limit:         getEnvInt("RETRIEVER_LIMIT", 5),
		},
		Session: SessionConfig{
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			SweepSchedule: getEnv("SESSION_SWEEP_SCHEDULE", "@every 1m"),
			MaxSessions:   getEnvInt("MAX_SESSIONS", 1000),
		},
		LLM: LLMConfig{
			Provider:     strings.ToLower(getEnv("LLM_PROVIDER", "rules")),
			Timeout:      getEnvDuration("LLM_TIMEOUT", 8*time.Second),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			GRPCAddr:     getEnv("LLM_GRPC_ADDR", ""),
			Rewrite:      getEnvBool("RESPONSE_REWRITE", false),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Telemetry.Enabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when telemetry is enabled")
	}
	if c.Telemetry.QueueSize <= 0 {
		return fmt.Errorf("TELEMETRY_QUEUE_SIZE must be > 0")
	}
	if !isSupportedLanguage(c.Dialogue.DefaultLanguage) {
		return fmt.Errorf("DEFAULT_LANGUAGE must be one of %s", strings.Join(supportedLanguages, ", "))
	}
	if c.Dialogue.ConfidenceThreshold < 0 || c.Dialogue.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0, 1]")
	}
	if c.Dialogue.MaxReplans < 0 {
		return fmt.Errorf("MAX_REPLANS must be >= 0")
	}
	if c.Dialogue.TransientRetries < 0 {
		return fmt.Errorf("TRANSIENT_RETRIES must be >= 0")
	}
	if c.Dialogue.ConversationWindow <= 0 {
		return fmt.Errorf("CONVERSATION_WINDOW must be > 0")
	}
	if c.Dialogue.MinProfileFields < 0 {
		return fmt.Errorf("MIN_PROFILE_FIELDS must be >= 0")
	}
	if c.Retriever.MinSimilarity < 0 || c.Retriever.MinSimilarity > 1 {
		return fmt.Errorf("RETRIEVER_MIN_SIMILARITY must be within [0, 1]")
	}
	if c.Retriever.Limit <= 0 {
		return fmt.Errorf("RETRIEVER_LIMIT must be > 0")
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT must be > 0")
	}
	if c.Session.SweepSchedule == "" {
		return fmt.Errorf("SESSION_SWEEP_SCHEDULE cannot be empty")
	}
	switch c.LLM.Provider {
	case "rules":
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case "grpc":
		if c.LLM.GRPCAddr == "" {
			return fmt.Errorf("LLM_GRPC_ADDR is required for the grpc provider")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of rules, gemini, grpc")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseTolerances parses "field=value" pairs separated by commas.
func ParseTolerances(raw string) (map[domain.Field]float64, error) {
	out := make(map[domain.Field]float64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("PROFILE_TOLERANCES: malformed pair %q", pair)
		}
		field := domain.Field(strings.TrimSpace(name))
		if !domain.KnownField(field) {
			return nil, fmt.Errorf("PROFILE_TOLERANCES: unknown field %q", field)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("PROFILE_TOLERANCES: bad tolerance for %s: %q", field, value)
		}
		out[field] = v
	}
	return out, nil
}

func isSupportedLanguage(lang string) bool {
	for _, l := range supportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
