package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr=%q, want :8080", cfg.Addr)
	}
	if cfg.SessionIdleTimeout != 5*time.Minute {
		t.Fatalf("SessionIdleTimeout=%v, want 5m", cfg.SessionIdleTimeout)
	}
	if cfg.WSMaxMessageBytes != 512*1024 {
		t.Fatalf("WSMaxMessageBytes=%d, want 524288", cfg.WSMaxMessageBytes)
	}
	if cfg.ElevenLabsConfigured() {
		t.Fatalf("ElevenLabsConfigured=true with no key in env")
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins=%v, want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("VOICEBRIDGE_ADDR", ":9090")
	t.Setenv("VOICEBRIDGE_ELEVENLABS_API_KEY", "xi-test-key")
	t.Setenv("VOICEBRIDGE_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VOICEBRIDGE_SESSION_IDLE_TIMEOUT", "90s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr=%q, want :9090", cfg.Addr)
	}
	if !cfg.ElevenLabsConfigured() {
		t.Fatalf("ElevenLabsConfigured=false, want true")
	}
	if cfg.SessionIdleTimeout != 90*time.Second {
		t.Fatalf("SessionIdleTimeout=%v, want 90s", cfg.SessionIdleTimeout)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://a.example"]; !ok {
		t.Fatalf("missing origin a.example: %v", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok {
		t.Fatalf("missing origin b.example: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("VOICEBRIDGE_WS_WRITE_TIMEOUT", "not-a-duration")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.WSWriteTimeout != 5*time.Second {
		t.Fatalf("WSWriteTimeout=%v, want default 5s", cfg.WSWriteTimeout)
	}
}

func TestLoadFromEnv_RejectsBadLogLevel(t *testing.T) {
	t.Setenv("VOICEBRIDGE_LOG_LEVEL", "verbose")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for bad log level")
	}
}
