package handlers

import (
	"net/http"

	"github.com/vozlab/voicebridge/pkg/bridge/config"
	"github.com/vozlab/voicebridge/pkg/bridge/lifecycle"
	"github.com/vozlab/voicebridge/pkg/bridge/store"
)

type HealthHandler struct {
	Config    config.Config
	Store     *store.Store
	Lifecycle *lifecycle.Lifecycle
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type healthResp struct {
		Status               string `json:"status"`
		ElevenLabsConfigured bool   `json:"elevenlabs_configured"`
		ActiveConversations  int    `json:"active_conversations"`
	}

	status := "ok"
	if h.Lifecycle.IsDraining() {
		status = "draining"
	}

	active := 0
	if h.Store != nil {
		active = h.Store.ActiveCount()
	}

	writeJSON(w, http.StatusOK, healthResp{
		Status:               status,
		ElevenLabsConfigured: h.Config.ElevenLabsConfigured(),
		ActiveConversations:  active,
	})
}
