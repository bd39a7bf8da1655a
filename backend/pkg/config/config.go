package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	apperrors "voice-bridge/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Text LLM (transcript refinement, reports)
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// Upstream live provider
	GoogleAPIKey    string
	UpstreamURL     string
	LiveModel       string
	DefaultVoice    string
	DefaultLanguage string

	// Auth
	JWTSecret        string
	JWTRefreshSecret string

	// Session behaviour
	HistoryLimit   int
	RefineEnabled  bool
	ReportsInChat  bool
	PersistTimeout time.Duration
	RefineTimeout  time.Duration
	ReportTimeout  time.Duration
	ConnectTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "3080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", ""),
		Neo4jURI:         getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:        getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:    getEnv("NEO4J_PASSWORD", "password"),
		LLMBaseURL:       getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
		LLMAPIKey:        getEnv("LLM_API_KEY", ""),
		LLMModel:         getEnv("LLM_MODEL", "gemini-2.5-flash"),
		GoogleAPIKey:     getEnv("GOOGLE_API_KEY", ""),
		UpstreamURL:      getEnv("UPSTREAM_URL", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"),
		LiveModel:        getEnv("LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		DefaultVoice:     getEnv("DEFAULT_VOICE", "Puck"),
		DefaultLanguage:  getEnv("DEFAULT_LANGUAGE", "es-ES"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		HistoryLimit:     getEnvInt("HISTORY_LIMIT", 20),
		RefineEnabled:    getEnvBool("REFINE_ENABLED", true),
		ReportsInChat:    getEnvBool("REPORTS_IN_CHAT", false),
		PersistTimeout:   getEnvMillis("PERSIST_TIMEOUT_MS", 10*time.Second),
		RefineTimeout:    getEnvMillis("REFINE_TIMEOUT_MS", 8*time.Second),
		ReportTimeout:    getEnvMillis("REPORT_TIMEOUT_MS", 60*time.Second),
		ConnectTimeout:   getEnvMillis("UPSTREAM_CONNECT_TIMEOUT_MS", 15*time.Second),
	}

	// The LLM key falls back to the provider key when both talk to Google.
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = cfg.GoogleAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
// GOOGLE_API_KEY is deliberately not required here: a missing key is
// reported to each connecting client as an admission error.
func (c *Config) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"NEO4J_URI", c.Neo4jURI},
		{"NEO4J_USER", c.Neo4jUser},
		{"NEO4J_PASSWORD", c.Neo4jPassword},
		{"UPSTREAM_URL", c.UpstreamURL},
		{"LIVE_MODEL", c.LiveModel},
		{"JWT_SECRET", c.JWTSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperrors.NewConfigMissingRequired(r.field)
		}
	}
	if c.HistoryLimit < 0 {
		return apperrors.NewConfigValidationFailed("HISTORY_LIMIT", "must not be negative")
	}
	if c.PersistTimeout <= 0 || c.RefineTimeout <= 0 || c.ReportTimeout <= 0 || c.ConnectTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("*_TIMEOUT_MS", "timeouts must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasUpstreamKey reports whether sessions can be admitted at all.
func (c *Config) HasUpstreamKey() bool {
	return strings.TrimSpace(c.GoogleAPIKey) != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if ms := getEnvInt(key, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
