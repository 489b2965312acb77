package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vozlab/voicebridge/pkg/bridge/elevenlabs"
	"github.com/vozlab/voicebridge/pkg/bridge/relay"
	"github.com/vozlab/voicebridge/pkg/bridge/store"
)

// scriptedVendor hands out one fake conversation per Open call.
type scriptedVendor struct {
	mu     sync.Mutex
	opened []string
	conv   *scriptedConversation
}

type scriptedConversation struct {
	events chan elevenlabs.Event

	mu    sync.Mutex
	audio [][]byte
}

func newScriptedVendor() *scriptedVendor {
	return &scriptedVendor{conv: &scriptedConversation{events: make(chan elevenlabs.Event, 16)}}
}

func (v *scriptedVendor) Open(_ context.Context, agentID string, _ elevenlabs.ConversationContext) (relay.VendorConversation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opened = append(v.opened, agentID)
	return v.conv, nil
}

func (c *scriptedConversation) Events() <-chan elevenlabs.Event { return c.events }

func (c *scriptedConversation) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, append([]byte(nil), pcm...))
	return nil
}

func (c *scriptedConversation) Interrupt(context.Context) error { return nil }

func (c *scriptedConversation) Close() error { return nil }

func wsTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("GET /ws", SimpleWSHandler{deps})
	mux.Handle("GET /ws/conversation/{id}", ConversationWSHandler{deps})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading %q frame: %v", wantType, err)
	}
	if msg["type"] != wantType {
		t.Fatalf("frame=%v, want type %q", msg, wantType)
	}
	return msg
}

func TestSimpleWS_EndToEnd(t *testing.T) {
	deps := testDeps(t)
	vendor := newScriptedVendor()
	deps.Vendor = vendor
	srv := wsTestServer(t, deps)

	conn := dialWS(t, srv, "/ws")
	if err := conn.WriteJSON(map[string]any{"type": "start_call", "from_number": "222"}); err != nil {
		t.Fatalf("start_call: %v", err)
	}

	started := readFrame(t, conn, "call_started")
	if started["agent_name"] != "Agente Mexicano" {
		t.Fatalf("agent_name=%v", started["agent_name"])
	}

	pcm := []byte("mic-chunk")
	if err := conn.WriteJSON(map[string]any{"type": "audio", "data": base64.StdEncoding.EncodeToString(pcm)}); err != nil {
		t.Fatalf("audio: %v", err)
	}

	vendor.conv.events <- elevenlabs.Event{Kind: elevenlabs.EventAgentResponse, Text: "órale"}
	if msg := readFrame(t, conn, "agent_response"); msg["text"] != "órale" {
		t.Fatalf("agent_response=%v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "end_call"}); err != nil {
		t.Fatalf("end_call: %v", err)
	}
	if ended := readFrame(t, conn, "call_ended"); ended["reason"] != "end_call" {
		t.Fatalf("call_ended=%v", ended)
	}

	deadline := time.Now().Add(2 * time.Second)
	for deps.Store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not cleaned up after call")
		}
		time.Sleep(10 * time.Millisecond)
	}

	vendor.conv.mu.Lock()
	defer vendor.conv.mu.Unlock()
	if len(vendor.conv.audio) != 1 || string(vendor.conv.audio[0]) != string(pcm) {
		t.Fatalf("vendor audio=%q", vendor.conv.audio)
	}
}

func TestConversationWS_EndToEnd(t *testing.T) {
	deps := testDeps(t)
	vendor := newScriptedVendor()
	deps.Vendor = vendor
	srv := wsTestServer(t, deps)

	sess := deps.Store.Create(store.CreateParams{
		Agent:       deps.Directory.ResolveOrDefault("AR_CBA"),
		CallerPhone: "+54 351 555 1234",
	})

	conn := dialWS(t, srv, "/ws/conversation/"+sess.ID)
	ready := readFrame(t, conn, "ready")
	if ready["agent_name"] != "Agente Cordobés" {
		t.Fatalf("ready=%v", ready)
	}

	got, err := deps.Store.Get(sess.ID)
	if err != nil || got.Status != store.StatusActive {
		t.Fatalf("session=%+v err=%v, want active", got, err)
	}

	close(vendor.conv.events)
	readFrame(t, conn, "call_ended")

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err = deps.Store.Get(sess.ID)
		if err != nil {
			t.Fatalf("session deleted, want retained: %v", err)
		}
		if got.Status == store.StatusEnded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session status=%v, want ended", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConversationWS_UnknownID(t *testing.T) {
	deps := testDeps(t)
	deps.Vendor = newScriptedVendor()
	srv := wsTestServer(t, deps)

	conn := dialWS(t, srv, "/ws/conversation/ghost")
	if msg := readFrame(t, conn, "error"); msg["message"] != "invalid conversation id" {
		t.Fatalf("error=%v", msg)
	}
}

func TestWS_DrainingRefusesUpgrade(t *testing.T) {
	deps := testDeps(t)
	deps.Lifecycle.SetDraining(true)
	srv := wsTestServer(t, deps)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial succeeded while draining")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp=%+v, want 503", resp)
	}
}

func TestWS_OriginDenied(t *testing.T) {
	deps := testDeps(t)
	deps.Config.CORSAllowedOrigins = map[string]struct{}{"https://dialer.example": {}}
	srv := wsTestServer(t, deps)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatalf("dial succeeded from denied origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%+v, want 403", resp)
	}
}
