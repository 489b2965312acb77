// Package handlers implements the HTTP and WebSocket surface of the bridge.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vozlab/voicebridge/pkg/bridge/agents"
	"github.com/vozlab/voicebridge/pkg/bridge/apierror"
	"github.com/vozlab/voicebridge/pkg/bridge/config"
	"github.com/vozlab/voicebridge/pkg/bridge/lifecycle"
	"github.com/vozlab/voicebridge/pkg/bridge/mw"
	"github.com/vozlab/voicebridge/pkg/bridge/relay"
	"github.com/vozlab/voicebridge/pkg/bridge/store"
)

const maxBodyBytes = 1 << 20

// Deps bundles what every handler needs; main wires it once.
type Deps struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Directory *agents.Directory
	Registry  *relay.Registry
	Vendor    relay.VendorOpener
	Lifecycle *lifecycle.Lifecycle
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.WriteJSON(w, err, reqID)
}

// decodeBody reads a small JSON body into dst, mapping failures to
// invalid_request.
func decodeBody(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "request body is required"}
		}
		return &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "invalid json body"}
	}
	return nil
}

type RootHandler struct{}

func (h RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "voicebridge",
		"message": "browser dialer bridge for ElevenLabs Conversational AI",
	})
}

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeJSON(w, http.StatusNotFound, apierror.Envelope{Error: &apierror.Error{
		Type:      apierror.ErrInvalidRequest,
		Message:   "not found",
		RequestID: reqID,
	}})
}
