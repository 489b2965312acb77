package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vozlab/voicebridge/pkg/bridge/agents"
	"github.com/vozlab/voicebridge/pkg/bridge/config"
	"github.com/vozlab/voicebridge/pkg/bridge/relay"
	"github.com/vozlab/voicebridge/pkg/bridge/store"
)

func testConfig() config.Config {
	return config.Config{
		Addr:               ":0",
		ElevenLabsAPIKey:   "xi-key",
		CORSAllowedOrigins: map[string]struct{}{"*": {}},
		WSMaxMessageBytes:  512 * 1024,
		WSWriteTimeout:     5 * time.Second,
		WSPingInterval:     20 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		SessionIdleTimeout: 5 * time.Minute,
		ReaperInterval:     30 * time.Second,
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(testConfig(), agents.NewDirectory(), logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding %s %s response: %v", method, url, err)
	}
	return resp.StatusCode, out
}

func TestServer_ConversationFlow(t *testing.T) {
	s, ts := newTestServer(t)

	status, body := getJSON(t, http.MethodPost, ts.URL+"/conversation/init",
		`{"caller_phone":"+54 11 5555 0001","caller_name":"Nico"}`)
	if status != http.StatusOK {
		t.Fatalf("init status=%d body=%v", status, body)
	}
	if body["agent_name"] != "Agente Porteño" {
		t.Fatalf("agent_name=%v", body["agent_name"])
	}
	convID := body["conversation_id"].(string)

	status, body = getJSON(t, http.MethodGet, ts.URL+"/conversation/"+convID+"/status", "")
	if status != http.StatusOK || body["status"] != "initializing" {
		t.Fatalf("status=%d body=%v", status, body)
	}

	status, body = getJSON(t, http.MethodGet, ts.URL+"/health", "")
	if status != http.StatusOK {
		t.Fatalf("health status=%d", status)
	}
	if n, _ := body["active_conversations"].(float64); int(n) != 1 {
		t.Fatalf("active_conversations=%v", body["active_conversations"])
	}

	status, body = getJSON(t, http.MethodDelete, ts.URL+"/conversation/"+convID, "")
	if status != http.StatusOK || body["message"] == "" {
		t.Fatalf("delete status=%d body=%v", status, body)
	}
	if s.Sessions().Len() != 0 {
		t.Fatalf("session survived delete")
	}

	status, _ = getJSON(t, http.MethodGet, ts.URL+"/conversation/"+convID+"/status", "")
	if status != http.StatusNotFound {
		t.Fatalf("deleted conversation status=%d, want 404", status)
	}
}

func TestServer_RootAndAgents(t *testing.T) {
	_, ts := newTestServer(t)

	status, body := getJSON(t, http.MethodGet, ts.URL+"/", "")
	if status != http.StatusOK || body["service"] != "voicebridge" {
		t.Fatalf("root status=%d body=%v", status, body)
	}

	status, body = getJSON(t, http.MethodGet, ts.URL+"/agents", "")
	if status != http.StatusOK {
		t.Fatalf("agents status=%d", status)
	}
	if list, _ := body["agents"].([]any); len(list) != 5 {
		t.Fatalf("agents=%v", body["agents"])
	}
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	_, ts := newTestServer(t)
	status, body := getJSON(t, http.MethodGet, ts.URL+"/nope", "")
	if status != http.StatusNotFound {
		t.Fatalf("status=%d body=%v", status, body)
	}
}

func TestServer_RequestIDHeader(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("no X-Request-ID header")
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/conversation/init", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status=%d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("allow-origin=%q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestServer_ReaperRemovesIdleSessions(t *testing.T) {
	cfg := testConfig()
	cfg.SessionIdleTimeout = time.Millisecond
	cfg.ReaperInterval = 10 * time.Millisecond
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, agents.NewDirectory(), logger)

	sess := s.Sessions().Create(store.CreateParams{Agent: agents.NewDirectory().Default()})
	canceled := make(chan struct{})
	s.Registry().Register(sess.ID, relay.Handle{Cancel: func() { close(canceled) }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunReaper(ctx)

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatalf("reaper never canceled the idle session's relay")
	}

	deadline := time.Now().Add(time.Second)
	for s.Sessions().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle session not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
