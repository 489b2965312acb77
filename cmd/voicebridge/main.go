package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vozlab/voicebridge/internal/dotenv"
	"github.com/vozlab/voicebridge/internal/logging"
	"github.com/vozlab/voicebridge/pkg/bridge/agents"
	"github.com/vozlab/voicebridge/pkg/bridge/config"
	bridgeserver "github.com/vozlab/voicebridge/pkg/bridge/server"
)

type bridgeDeps struct {
	loadConfig    func() (config.Config, error)
	loadDirectory func(path string) (*agents.Directory, error)
	newServer     func(config.Config, *agents.Directory, *slog.Logger) *bridgeserver.Server
	signalNotify  func(chan<- os.Signal, ...os.Signal)
	signalStop    func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig:    config.LoadFromEnv,
		loadDirectory: agents.LoadDirectory,
		newServer:     bridgeserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// No WriteTimeout: WebSocket relays outlive any sane request deadline.
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, deps bridgeDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.loadDirectory == nil {
		return errors.New("missing loadDirectory dependency")
	}
	if deps.newServer == nil {
		return errors.New("missing newServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	directory, err := deps.loadDirectory(cfg.AgentsFile)
	if err != nil {
		return fmt.Errorf("load agent directory: %w", err)
	}

	if !cfg.ElevenLabsConfigured() {
		logger.Warn("VOICEBRIDGE_ELEVENLABS_API_KEY is not set; calls will fail until it is configured")
	}

	srv := deps.newServer(cfg, directory, logger)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	reaperCtx, reaperCancel := context.WithCancel(ctx)
	defer reaperCancel()
	go srv.RunReaper(reaperCtx)

	logger.Info("starting bridge",
		"addr", cfg.Addr,
		"agents", len(directory.All()),
		"elevenlabs_configured", cfg.ElevenLabsConfigured(),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.Lifecycle().SetDraining(true)
	reaperCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.Registry().Wait(waitCtx) {
		n := srv.Registry().CancelAll()
		logger.Warn("canceled relays still bridging at shutdown", "count", n)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("bridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voicebridge: %v\n", err)
		return 1
	}

	logger, closeLog := logging.Setup(
		os.Getenv("VOICEBRIDGE_LOG_FILE"),
		os.Getenv("VOICEBRIDGE_LOG_LEVEL"),
	)
	defer func() { _ = closeLog() }()

	if err := runBridge(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicebridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}
