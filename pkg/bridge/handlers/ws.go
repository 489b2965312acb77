package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vozlab/voicebridge/pkg/bridge/apierror"
	"github.com/vozlab/voicebridge/pkg/bridge/mw"
	"github.com/vozlab/voicebridge/pkg/bridge/relay"
)

// SimpleWSHandler serves /ws: the client starts the call in-band with a
// start_call frame.
type SimpleWSHandler struct {
	Deps
}

func (h SimpleWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}

	rl, err := h.newRelay(conn)
	if err != nil {
		h.Logger.Error("relay setup failed", "error", err)
		_ = conn.Close()
		return
	}
	if err := rl.RunSimple(r.Context()); err != nil {
		h.Logger.Debug("simple relay finished with error", "error", err)
	}
}

// ConversationWSHandler serves /ws/conversation/{id} for sessions created via
// POST /conversation/init.
type ConversationWSHandler struct {
	Deps
}

func (h ConversationWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}

	rl, err := h.newRelay(conn)
	if err != nil {
		h.Logger.Error("relay setup failed", "error", err)
		_ = conn.Close()
		return
	}
	if err := rl.RunConversation(r.Context(), id); err != nil {
		h.Logger.Debug("conversation relay finished with error", "conversation_id", id, "error", err)
	}
}

// upgrade checks draining and origin policy, then switches protocols. On
// refusal it writes the HTTP error itself and reports ok=false.
func (d Deps) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if d.Lifecycle.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, apierror.Envelope{Error: &apierror.Error{
			Type:      apierror.ErrInternal,
			Message:   "server is draining",
			RequestID: reqID,
		}})
		return nil, false
	}
	if !d.originAllowed(r) {
		writeJSON(w, http.StatusForbidden, apierror.Envelope{Error: &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "origin is not allowed",
			RequestID: reqID,
		}})
		return nil, false
	}

	upgrader := websocket.Upgrader{
		// Origin policy is enforced above against the configured allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return nil, false
	}
	return conn, true
}

func (d Deps) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser callers carry no Origin; nothing to enforce.
		return true
	}
	if _, ok := d.Config.CORSAllowedOrigins["*"]; ok {
		return true
	}
	_, ok := d.Config.CORSAllowedOrigins[origin]
	return ok
}

func (d Deps) newRelay(conn *websocket.Conn) (*relay.Relay, error) {
	return relay.New(relay.Dependencies{
		Conn:      conn,
		Store:     d.Store,
		Directory: d.Directory,
		Vendor:    d.Vendor,
		Registry:  d.Registry,
		Logger:    d.Logger,
		Config: relay.Config{
			WriteTimeout:     d.Config.WSWriteTimeout,
			PingInterval:     d.Config.WSPingInterval,
			HandshakeTimeout: d.Config.HandshakeTimeout,
			MaxMessageBytes:  d.Config.WSMaxMessageBytes,
		},
	})
}
