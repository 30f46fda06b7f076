// Package config loads companion settings from .env files and the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAddr           = "127.0.0.1:3001"
	DefaultVoiceID        = "EXAVITQu4vr4xnSDxMaL"
	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultRedirectPort   = 3847
	DefaultAutoStartDelay = 500 * time.Millisecond
	DefaultToolTimeout    = 30 * time.Second
	DefaultHighlightTTL   = 10 * time.Second
)

// Config holds companion configuration.
type Config struct {
	Addr string

	ElevenLabsAPIKey  string
	ElevenLabsAgentID string
	SignedURLEndpoint string
	VoiceID           string

	GeminiAPIKey string
	GeminiModel  string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleTokenPath    string
	GoogleRedirectPort int

	DataDir  string
	UserRole string

	AutoStartDelay time.Duration
	ToolTimeout    time.Duration
	HighlightTTL   time.Duration
	AllowShell     bool

	LogLevel  string
	LogFormat string
}

// DatabasePath is where memories and nudges are stored.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "companion.db")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load reads .env files (missing files are ignored) and then the environment.
// Values already in the environment win over .env entries.
func Load(envFiles ...string) *Config {
	_ = godotenv.Load(envFiles...)

	return &Config{
		Addr: getEnv("COMPANION_ADDR", DefaultAddr),

		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsAgentID: getEnv("ELEVENLABS_AGENT_ID", ""),
		SignedURLEndpoint: getEnv("SIGNED_URL_ENDPOINT", ""),
		VoiceID:           getEnv("VOICE_ID", DefaultVoiceID),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", DefaultGeminiModel),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleTokenPath:    getEnv("GOOGLE_TOKEN_PATH", ".google-token.json"),
		GoogleRedirectPort: getIntEnv("GOOGLE_REDIRECT_PORT", DefaultRedirectPort),

		DataDir:  getEnv("COMPANION_DATA_DIR", "./data"),
		UserRole: getEnv("COMPANION_USER_ROLE", "grandma"),

		AutoStartDelay: getDurationEnv("AUTO_START_DELAY", DefaultAutoStartDelay),
		ToolTimeout:    getDurationEnv("TOOL_TIMEOUT", DefaultToolTimeout),
		HighlightTTL:   getDurationEnv("HIGHLIGHT_TTL", DefaultHighlightTTL),
		AllowShell:     getBoolEnv("ALLOW_SHELL_COMMANDS", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}
