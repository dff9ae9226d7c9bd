package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the tutor service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration

	OpenAIAPIKey string
	OpenAIModel  string

	DeepgramAPIKey string
	STTLanguage    string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	FalAPIKey string

	DatabaseURL string
	MemoryDir   string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "kaiwa"),
		OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-4o"),
		// "multi" lets Deepgram follow learners who code-switch between
		// English and Japanese mid-sentence.
		STTLanguage:       envOrDefault("STT_LANGUAGE", "multi"),
		ElevenLabsVoiceID: envOrDefault("ELEVENLABS_VOICE_ID", "pFZP5JQG7iQjIQuC4Bku"),
		MemoryDir:         envOrDefault("MEMORY_DIR", ".data/memory"),
		OpenAIAPIKey:      trimSpaceEnv("OPENAI_API_KEY"),
		DeepgramAPIKey:    trimSpaceEnv("DEEPGRAM_API_KEY"),
		ElevenLabsAPIKey:  trimSpaceEnv("ELEVENLABS_API_KEY"),
		FalAPIKey:         trimSpaceEnv("FAL_KEY"),
		DatabaseURL:       trimSpaceEnv("DATABASE_URL"),
		ShutdownTimeout:   15 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("APP_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleTimeout, err = durationFromEnv("APP_IDLE_TIMEOUT", cfg.IdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.HeartbeatInterval < 5*time.Second {
		return Config{}, fmt.Errorf("APP_HEARTBEAT_INTERVAL must be at least 5s")
	}
	if cfg.IdleTimeout <= cfg.HeartbeatInterval {
		return Config{}, fmt.Errorf("APP_IDLE_TIMEOUT must exceed APP_HEARTBEAT_INTERVAL")
	}
	if cfg.MemoryDir == "" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("one of MEMORY_DIR or DATABASE_URL must be set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimSpaceEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimSpaceEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: %q is not a boolean", key, v)
	}
}
