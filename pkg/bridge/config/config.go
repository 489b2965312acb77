package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable of the bridge process. Values come from
// VOICEBRIDGE_* environment variables with conservative defaults; LoadFromEnv
// rejects configurations the server cannot run with.
type Config struct {
	Addr string

	// ElevenLabs Conversational AI.
	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string

	// Optional YAML file overlaying the built-in agent directory.
	AgentsFile string

	// CORS allowlist; empty => no cross-origin access.
	CORSAllowedOrigins map[string]struct{}

	// Relay WebSocket tuning.
	WSMaxMessageBytes int64
	WSWriteTimeout    time.Duration
	WSPingInterval    time.Duration
	HandshakeTimeout  time.Duration

	// Session reaping.
	SessionIdleTimeout time.Duration
	ReaperInterval     time.Duration

	// Operational defaults. No read or write timeout on the HTTP server
	// itself: relay sockets are long-lived.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	// Logging.
	LogFile  string
	LogLevel string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEBRIDGE_ADDR", ":8080"),
		ElevenLabsAPIKey:    strings.TrimSpace(os.Getenv("VOICEBRIDGE_ELEVENLABS_API_KEY")),
		ElevenLabsWSBaseURL: envOr("VOICEBRIDGE_ELEVENLABS_WS_URL", ""),
		AgentsFile:          envOr("VOICEBRIDGE_AGENTS_FILE", ""),
		CORSAllowedOrigins:  make(map[string]struct{}),
		WSMaxMessageBytes:   envInt64Or("VOICEBRIDGE_WS_MAX_MESSAGE_BYTES", 512*1024),
		WSWriteTimeout:      envDurationOr("VOICEBRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:      envDurationOr("VOICEBRIDGE_WS_PING_INTERVAL", 20*time.Second),
		HandshakeTimeout:    envDurationOr("VOICEBRIDGE_WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		SessionIdleTimeout:  envDurationOr("VOICEBRIDGE_SESSION_IDLE_TIMEOUT", 5*time.Minute),
		ReaperInterval:      envDurationOr("VOICEBRIDGE_REAPER_INTERVAL", 30*time.Second),
		ReadHeaderTimeout:   envDurationOr("VOICEBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		LogFile:             envOr("VOICEBRIDGE_LOG_FILE", ""),
		LogLevel:            envOr("VOICEBRIDGE_LOG_LEVEL", "info"),
	}

	for _, origin := range splitCSV(os.Getenv("VOICEBRIDGE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("VOICEBRIDGE_ADDR must not be empty")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SESSION_IDLE_TIMEOUT must be > 0")
	}
	if cfg.ReaperInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_REAPER_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("VOICEBRIDGE_LOG_LEVEL must be one of debug|info|warn|error")
	}

	return cfg, nil
}

// ElevenLabsConfigured reports whether the vendor credential is present.
// The server still starts without it so /health and /agents stay usable.
func (c Config) ElevenLabsConfigured() bool {
	return strings.TrimSpace(c.ElevenLabsAPIKey) != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
