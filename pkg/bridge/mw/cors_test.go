package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vozlab/voicebridge/pkg/bridge/config"
)

func corsConfig(origins ...string) config.Config {
	cfg := config.Config{CORSAllowedOrigins: make(map[string]struct{})}
	for _, o := range origins {
		cfg.CORSAllowedOrigins[o] = struct{}{}
	}
	return cfg
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_PreflightAllowed(t *testing.T) {
	h := CORS(corsConfig("https://dialer.example"), okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/conversation/init", nil)
	req.Header.Set("Origin", "https://dialer.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://dialer.example" {
		t.Fatalf("allow-origin=%q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != corsAllowedMethods {
		t.Fatalf("allow-methods=%q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCORS_PreflightDenied(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.Config
		origin string
	}{
		{"unlisted origin", corsConfig("https://dialer.example"), "https://evil.example"},
		{"empty allowlist", corsConfig(), "https://dialer.example"},
		{"no origin header", corsConfig("https://dialer.example"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/conversation/init", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			CORS(tt.cfg, okHandler()).ServeHTTP(rec, req)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status=%d, want 403", rec.Code)
			}
		})
	}
}

func TestCORS_WildcardEchoesOrigin(t *testing.T) {
	h := CORS(corsConfig("*"), okHandler())

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("allow-origin=%q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORS_NonPreflightUnlistedOriginPassesWithoutHeaders(t *testing.T) {
	h := CORS(corsConfig("https://dialer.example"), okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("allow-origin set for unlisted origin")
	}
}
