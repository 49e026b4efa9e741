// Package config reads process configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// lockLeaseMargin is the minimum gap between the provider timeout and the
// session lock lease, so a turn's lock outlives its provider call.
const lockLeaseMargin = 15 * time.Second

// defaultModels holds the brief and chat model defaults per provider.
var defaultModels = map[string][2]string{
	ProviderGemini: {"gemini-2.5-flash", "gemini-3-pro-preview"},
	ProviderOpenAI: {"gpt-4o-mini", "gpt-4o-mini"},
}

type Config struct {
	Provider         string
	GeminiAPIKey     string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	ParamPrefix      string
	BriefModel       string
	ChatModel        string
	ProviderTimeout  time.Duration
	MaxFieldLength   int
	MaxMessageLength int

	StateTable       string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SessionTTL       time.Duration
	SessionLockLease time.Duration

	AllowedOrigin string
	LogLevel      slog.Level
	Port          string
}

// Load reads environment variables, optionally from a .env file if present.
// A missing provider credential is not an error here; it surfaces per request.
func Load() Config {
	// Try to load .env if it exists; ignore error if file not found
	_ = godotenv.Load()

	provider := strings.ToLower(getEnv("PROVIDER", ProviderGemini))
	models, ok := defaultModels[provider]
	if !ok {
		models = defaultModels[ProviderGemini]
	}
	providerTimeout := getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second)

	return Config{
		Provider:         provider,
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		ParamPrefix:      strings.TrimRight(strings.TrimSpace(os.Getenv("PARAM_PREFIX")), "/"),
		BriefModel:       getEnv("BRIEF_MODEL", models[0]),
		ChatModel:        getEnv("CHAT_MODEL", models[1]),
		ProviderTimeout:  providerTimeout,
		MaxFieldLength:   getEnvInt("MAX_FIELD_LENGTH", 120),
		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", 500),
		StateTable:       os.Getenv("STATE_TABLE"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		SessionTTL:       getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionLockLease: lockLease(getEnvDuration("SESSION_LOCK_LEASE", 60*time.Second), providerTimeout),
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", "*"),
		LogLevel:         getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Port:             getEnv("PORT", "8080"),
	}
}

// TokenParam returns the SSM parameter holding the active provider's token,
// or "" when no prefix is configured.
func (c Config) TokenParam() string {
	if c.ParamPrefix == "" {
		return ""
	}
	if c.Provider == ProviderOpenAI {
		return c.ParamPrefix + "/open-ai-token"
	}
	return c.ParamPrefix + "/gemini-token"
}

// lockLease raises lease to providerTimeout plus lockLeaseMargin when it is
// shorter, so a lock never expires while its own provider call can still run.
func lockLease(lease, providerTimeout time.Duration) time.Duration {
	if floor := providerTimeout + lockLeaseMargin; lease < floor {
		return floor
	}
	return lease
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("45s") or bare seconds ("45").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func getEnvLevel(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return def
	}
	return lvl
}
