package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vozlab/voicebridge/pkg/bridge/apierror"
	"github.com/vozlab/voicebridge/pkg/bridge/store"
)

// initResponse is shared by POST /conversation/init and POST /call/dial.
type initResponse struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name"`
	WebSocketURL   string `json:"websocket_url"`
}

// InitHandler creates a session ahead of the WebSocket attach.
type InitHandler struct {
	Deps
}

func (h InitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerPhone   string         `json:"caller_phone"`
		CallerName    string         `json:"caller_name"`
		CountryCode   string         `json:"country_code"`
		Language      string         `json:"language"`
		CustomContext map[string]any `json:"custom_context"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.CallerPhone) == "" {
		writeError(w, r, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "caller_phone is required"})
		return
	}

	agent := h.Directory.Select(req.CountryCode, req.CallerPhone)
	sess := h.Store.Create(store.CreateParams{
		Agent:       agent,
		CallerPhone: req.CallerPhone,
		CallerName:  req.CallerName,
		Language:    req.Language,
		Custom:      req.CustomContext,
	})

	h.Logger.Info("conversation initialized",
		"conversation_id", sess.ID,
		"agent", agent.Name,
		"caller_phone", req.CallerPhone,
	)

	writeJSON(w, http.StatusOK, initResponse{
		ConversationID: sess.ID,
		AgentID:        agent.AgentID,
		AgentName:      agent.Name,
		WebSocketURL:   "/ws/conversation/" + sess.ID,
	})
}

// DialHandler mirrors the dialer's one-shot flow: pick the agent from the
// dialed number and create the session in one call.
type DialHandler struct {
	Deps
}

func (h DialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string         `json:"phone_number"`
		CallerInfo  map[string]any `json:"caller_info"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		writeError(w, r, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "phone_number is required"})
		return
	}

	agent := h.Directory.Select("", req.PhoneNumber)
	sess := h.Store.Create(store.CreateParams{
		Agent:       agent,
		CallerPhone: req.PhoneNumber,
		Custom:      req.CallerInfo,
	})

	h.Logger.Info("dial requested",
		"conversation_id", sess.ID,
		"agent", agent.Name,
		"phone_number", req.PhoneNumber,
	)

	writeJSON(w, http.StatusOK, initResponse{
		ConversationID: sess.ID,
		AgentID:        agent.AgentID,
		AgentName:      agent.Name,
		WebSocketURL:   "/ws/conversation/" + sess.ID,
	})
}

// StatusHandler reports one session's current status.
type StatusHandler struct {
	Deps
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.Store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, &apierror.Error{Type: apierror.ErrSessionNotFound, Message: "conversation not found"})
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": sess.ID,
		"status":          string(sess.Status),
		"agent_name":      sess.Agent.Name,
		"language":        sess.Language,
	})
}

// EndHandler removes a session and wakes any relay still bridging it.
type EndHandler struct {
	Deps
}

func (h EndHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Cancel first so a bridging relay sees the shutdown before its session
	// entry disappears.
	canceled := h.Registry.Cancel(id)
	deleted := h.Store.Delete(id)
	if !canceled && !deleted {
		writeError(w, r, &apierror.Error{Type: apierror.ErrSessionNotFound, Message: "conversation not found"})
		return
	}

	h.Logger.Info("conversation ended via api", "conversation_id", id, "relay_canceled", canceled)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "conversation ended",
	})
}
