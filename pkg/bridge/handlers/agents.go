package handlers

import (
	"net/http"

	"github.com/vozlab/voicebridge/pkg/bridge/agents"
)

type AgentsHandler struct {
	Directory *agents.Directory
}

func (h AgentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": h.Directory.All(),
	})
}
