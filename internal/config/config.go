package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	// Server
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string

	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Redis (optional: queue, pub/sub and source cache)
	RedisURL string

	// Sessions
	SessionSecret string
	SessionTTL    time.Duration

	// LLM providers
	DefaultProvider   string
	GroqAPIKey        string
	GroqModel         string
	OpenAIAPIKey      string
	OpenAIModel       string
	GeminiAPIKey      string
	GeminiModel       string
	LLMConcurrentReqs int
	LLMTimeout        time.Duration

	// Generation
	MaxSourceChars int
	MaxUploadBytes int64
	SourceCacheTTL time.Duration
	PromptsPath    string
	GenerateLimit  int
	WorkerCount    int
}

// Load reads configuration from the environment (and .env when present).
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		Env:            getEnvOrDefault("ENV", "development"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		AllowedOrigins: splitList(getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),

		DatabaseDriver: strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", DriverSQLite)),
		DatabaseURL:    getEnvOrDefault("DATABASE_URL", "file:quizmaster.db"),

		RedisURL: os.Getenv("REDIS_URL"),

		SessionSecret: os.Getenv("SESSION_SECRET"),
		SessionTTL:    time.Duration(getEnvAsIntOrDefault("SESSION_TTL_HOURS", 24*7)) * time.Hour,

		DefaultProvider:   strings.ToLower(getEnvOrDefault("DEFAULT_PROVIDER", "groq")),
		GroqAPIKey:        os.Getenv("GROQ_API_KEY"),
		GroqModel:         getEnvOrDefault("GROQ_MODEL", "llama-3.1-8b-instant"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		LLMConcurrentReqs: getEnvAsIntOrDefault("LLM_CONCURRENT_REQUESTS", 5),
		LLMTimeout:        time.Duration(getEnvAsIntOrDefault("LLM_TIMEOUT_SECONDS", 90)) * time.Second,

		MaxSourceChars: getEnvAsIntOrDefault("MAX_SOURCE_CHARS", 15000),
		MaxUploadBytes: int64(getEnvAsIntOrDefault("MAX_UPLOAD_MB", 20)) << 20,
		SourceCacheTTL: time.Duration(getEnvAsIntOrDefault("SOURCE_CACHE_TTL_HOURS", 24)) * time.Hour,
		PromptsPath:    os.Getenv("PROMPTS_PATH"),
		GenerateLimit:  getEnvAsIntOrDefault("GENERATE_REQUESTS_PER_MINUTE", 10),
		WorkerCount:    getEnvAsIntOrDefault("WORKER_COUNT", 3),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (want postgres or sqlite)", c.DatabaseDriver)
	}

	switch c.DefaultProvider {
	case "groq", "openai", "gemini":
	default:
		return fmt.Errorf("unsupported DEFAULT_PROVIDER %q (want groq, openai or gemini)", c.DefaultProvider)
	}

	if c.LLMConcurrentReqs < 1 {
		c.LLMConcurrentReqs = 1
	}
	if c.WorkerCount < 1 {
		c.WorkerCount = 1
	}
	return nil
}

// RequireSessionSecret is checked by the HTTP server only; the CLI never signs tokens.
func (c *Config) RequireSessionSecret() error {
	if len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be set to at least 16 characters")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
