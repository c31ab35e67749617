package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr   string
	CORSOrigin string

	DBDSN         string
	JWTSecret     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// chat
	ChatContextWindowSize int
	ChatReplyTimeout      time.Duration
	ChatTitleTimeout      time.Duration
	ChatLockTTL           time.Duration
	ChatLockWait          time.Duration

	// AI provider
	AIProvider        string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
	GeminiAPIKey      string
	GeminiModel       string

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	LogLevel  string
	LogFormat string
}

func defaults(v *viper.Viper) {
	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/aiverse?charset=utf8mb4&parseTime=true&loc=Local
	// sqlite:aiverse.db
	v.SetDefault("HTTP_ADDR", ":5000")
	v.SetDefault("CORS_ORIGIN", "")
	v.SetDefault("DB_DSN", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
		"app", "apppass", "127.0.0.1", "3306", "aiverse",
	))
	v.SetDefault("JWT_SECRET", "dev-secret-change-me")

	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASS", "")
	v.SetDefault("SMTP_FROM", "")

	v.SetDefault("CHAT_CONTEXT_WINDOW_SIZE", 0)
	v.SetDefault("CHAT_REPLY_TIMEOUT", 90*time.Second)
	v.SetDefault("CHAT_TITLE_TIMEOUT", 20*time.Second)
	v.SetDefault("CHAT_LOCK_TTL", 2*time.Minute)
	v.SetDefault("CHAT_LOCK_WAIT", 30*time.Second)

	v.SetDefault("AI_PROVIDER", "gemini")
	v.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "llama3:latest")
	v.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("OPENROUTER_API_KEY", "")
	v.SetDefault("OPENROUTER_MODEL", "openrouter/auto")
	v.SetDefault("OPENROUTER_SITE_URL", "")
	v.SetDefault("OPENROUTER_APP_NAME", "")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")

	v.SetDefault("RABBIT_URL", "")
	v.SetDefault("RABBIT_QUEUE", "verification_mail")
	v.SetDefault("WORKER_CONCURRENCY", 2)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// minDuration rejects values below one second. A bare number such as "90"
// parses as nanoseconds, which is never what is meant here.
func minDuration(v *viper.Viper, key string) (time.Duration, error) {
	d := v.GetDuration(key)
	if d < time.Second {
		return 0, fmt.Errorf("%s=%q must be at least 1s, include a unit such as \"90s\"", key, v.GetString(key))
	}
	return d, nil
}

// Load reads configuration from the environment. If CONFIG_FILE points at a
// yaml/json/toml file its keys are used as a base layer below the env.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	smtpFrom := v.GetString("SMTP_FROM")
	if smtpFrom == "" {
		smtpFrom = v.GetString("SMTP_USER")
	}

	windowSize := v.GetInt("CHAT_CONTEXT_WINDOW_SIZE")
	if windowSize < 0 {
		windowSize = 0
	}

	replyTimeout, err := minDuration(v, "CHAT_REPLY_TIMEOUT")
	if err != nil {
		return Config{}, err
	}
	titleTimeout, err := minDuration(v, "CHAT_TITLE_TIMEOUT")
	if err != nil {
		return Config{}, err
	}
	lockTTL, err := minDuration(v, "CHAT_LOCK_TTL")
	if err != nil {
		return Config{}, err
	}
	lockWait, err := minDuration(v, "CHAT_LOCK_WAIT")
	if err != nil {
		return Config{}, err
	}

	concurrency := v.GetInt("WORKER_CONCURRENCY")
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}

	return Config{
		HTTPAddr:   v.GetString("HTTP_ADDR"),
		CORSOrigin: v.GetString("CORS_ORIGIN"),

		DBDSN:     v.GetString("DB_DSN"),
		JWTSecret: v.GetString("JWT_SECRET"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		SMTPHost: v.GetString("SMTP_HOST"),
		SMTPPort: v.GetInt("SMTP_PORT"),
		SMTPUser: v.GetString("SMTP_USER"),
		SMTPPass: v.GetString("SMTP_PASS"),
		SMTPFrom: smtpFrom,

		ChatContextWindowSize: windowSize,
		ChatReplyTimeout:      replyTimeout,
		ChatTitleTimeout:      titleTimeout,
		ChatLockTTL:           lockTTL,
		ChatLockWait:          lockWait,

		AIProvider:        strings.ToLower(strings.TrimSpace(v.GetString("AI_PROVIDER"))),
		OllamaBaseURL:     v.GetString("OLLAMA_BASE_URL"),
		OllamaModel:       v.GetString("OLLAMA_MODEL"),
		OpenRouterBaseURL: v.GetString("OPENROUTER_BASE_URL"),
		OpenRouterAPIKey:  v.GetString("OPENROUTER_API_KEY"),
		OpenRouterModel:   v.GetString("OPENROUTER_MODEL"),
		OpenRouterSiteURL: v.GetString("OPENROUTER_SITE_URL"),
		OpenRouterAppName: v.GetString("OPENROUTER_APP_NAME"),
		GeminiAPIKey:      v.GetString("GEMINI_API_KEY"),
		GeminiModel:       v.GetString("GEMINI_MODEL"),

		RabbitURL:         v.GetString("RABBIT_URL"),
		RabbitQueue:       v.GetString("RABBIT_QUEUE"),
		WorkerConcurrency: concurrency,

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}, nil
}
