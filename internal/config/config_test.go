package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.HeartbeatInterval != 60*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 60s", cfg.HeartbeatInterval)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Fatalf("IdleTimeout = %v, want 5m", cfg.IdleTimeout)
	}
	if cfg.STTLanguage != "multi" {
		t.Fatalf("STTLanguage = %q, want multi", cfg.STTLanguage)
	}
	if cfg.MemoryDir == "" {
		t.Fatal("MemoryDir default missing")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("APP_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("APP_IDLE_TIMEOUT", "2m")
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want :9090", cfg.BindAddr)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("OpenAIAPIKey = %q, want trimmed", cfg.OpenAIAPIKey)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"short heartbeat", "APP_HEARTBEAT_INTERVAL", "1s"},
		{"idle below heartbeat", "APP_IDLE_TIMEOUT", "10s"},
		{"bad duration", "APP_SHUTDOWN_TIMEOUT", "soon"},
		{"bad bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%q", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_HEARTBEAT_INTERVAL",
		"APP_IDLE_TIMEOUT",
		"OPENAI_API_KEY",
		"OPENAI_MODEL",
		"DEEPGRAM_API_KEY",
		"STT_LANGUAGE",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_VOICE_ID",
		"FAL_KEY",
		"DATABASE_URL",
		"MEMORY_DIR",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
