// Package server wires routes, middleware, and background maintenance into
// one http.Handler.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vozlab/voicebridge/pkg/bridge/agents"
	"github.com/vozlab/voicebridge/pkg/bridge/config"
	"github.com/vozlab/voicebridge/pkg/bridge/elevenlabs"
	"github.com/vozlab/voicebridge/pkg/bridge/handlers"
	"github.com/vozlab/voicebridge/pkg/bridge/lifecycle"
	"github.com/vozlab/voicebridge/pkg/bridge/mw"
	"github.com/vozlab/voicebridge/pkg/bridge/relay"
	"github.com/vozlab/voicebridge/pkg/bridge/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	sessions  *store.Store
	directory *agents.Directory
	registry  *relay.Registry
	lifecycle *lifecycle.Lifecycle
	vendor    relay.VendorOpener
}

func New(cfg config.Config, directory *agents.Directory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if directory == nil {
		directory = agents.NewDirectory()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		sessions:  store.New(),
		directory: directory,
		registry:  relay.NewRegistry(),
		lifecycle: &lifecycle.Lifecycle{},
		vendor: relay.ElevenLabsOpener{Client: &elevenlabs.Client{
			APIKey:       cfg.ElevenLabsAPIKey,
			BaseWSURL:    cfg.ElevenLabsWSBaseURL,
			Logger:       logger,
			WriteTimeout: cfg.WSWriteTimeout,
		}},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	deps := handlers.Deps{
		Config:    s.cfg,
		Logger:    s.logger,
		Store:     s.sessions,
		Directory: s.directory,
		Registry:  s.registry,
		Vendor:    s.vendor,
		Lifecycle: s.lifecycle,
	}

	s.mux.Handle("GET /{$}", handlers.RootHandler{})
	s.mux.Handle("GET /health", handlers.HealthHandler{
		Config:    s.cfg,
		Store:     s.sessions,
		Lifecycle: s.lifecycle,
	})
	s.mux.Handle("GET /agents", handlers.AgentsHandler{Directory: s.directory})

	s.mux.Handle("POST /conversation/init", handlers.InitHandler{Deps: deps})
	s.mux.Handle("GET /conversation/{id}/status", handlers.StatusHandler{Deps: deps})
	s.mux.Handle("DELETE /conversation/{id}", handlers.EndHandler{Deps: deps})
	s.mux.Handle("POST /call/dial", handlers.DialHandler{Deps: deps})
	s.mux.Handle("GET /location/suggest", handlers.LocationHandler{Deps: deps})

	s.mux.Handle("GET /ws", handlers.SimpleWSHandler{Deps: deps})
	s.mux.Handle("GET /ws/conversation/{id}", handlers.ConversationWSHandler{Deps: deps})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Registry exposes the relay registry for shutdown coordination.
func (s *Server) Registry() *relay.Registry {
	return s.registry
}

// Lifecycle exposes the draining flag for shutdown coordination.
func (s *Server) Lifecycle() *lifecycle.Lifecycle {
	return s.lifecycle
}

// Sessions exposes the session store; tests and the reaper use it.
func (s *Server) Sessions() *store.Store {
	return s.sessions
}

// RunReaper periodically removes idle sessions and wakes any relay still
// bridging for a reaped id. Blocks until ctx is canceled.
func (s *Server) RunReaper(ctx context.Context) {
	interval := s.cfg.ReaperInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	maxIdle := s.cfg.SessionIdleTimeout
	if maxIdle <= 0 {
		maxIdle = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped := s.sessions.Reap(maxIdle)
			for _, id := range reaped {
				canceled := s.registry.Cancel(id)
				s.logger.Info("reaped idle session", "conversation_id", id, "relay_canceled", canceled)
			}
		}
	}
}
