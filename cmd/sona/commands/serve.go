package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumenkind/sona/cmd/sona/internal/config"
	"github.com/lumenkind/sona/pkg/continuity"
	"github.com/lumenkind/sona/pkg/model"
	"github.com/lumenkind/sona/pkg/relay"
	"github.com/lumenkind/sona/pkg/session"
	"github.com/lumenkind/sona/pkg/therapy/repo"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the sona relay server.

Endpoints:
  /ws            websocket relay (sessions, audio, feature frames)
  /webrtc/offer  WebRTC microphone offer for an active session
  /healthz       liveness probe

The abandoned-session sweeper runs alongside the relay and finalizes
sessions left open past the configured timeout.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer store.Close()

	vaultSvc, err := buildVault(ctx, cfg)
	if err != nil {
		return fmt.Errorf("encryption service: %w", err)
	}

	summarizer, err := buildSummarizer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}

	abandonAfter, err := config.ParseDuration(cfg.Session.AbandonAfter, 30*time.Minute)
	if err != nil {
		return err
	}
	sweepInterval, err := config.ParseDuration(cfg.Session.SweepInterval, time.Minute)
	if err != nil {
		return err
	}

	r := repo.New(store)
	eng := continuity.New(r)
	orch, err := session.New(session.Config{
		Repo:         r,
		Vault:        vaultSvc,
		Continuity:   eng,
		Summarizer:   summarizer,
		AbandonAfter: abandonAfter,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	go orch.RunSweeper(ctx, sweepInterval)

	var dialer model.Dialer
	if cfg.Model != nil {
		d, err := model.NewRealtimeDialer(*cfg.Model)
		if err != nil {
			return fmt.Errorf("model dialer: %w", err)
		}
		dialer = d
	} else {
		logger.Warn("no model configured, sessions run without a voice model")
	}

	relaySrv, err := relay.NewServer(relay.Config{
		Orchestrator: orch,
		Continuity:   eng,
		Dialer:       dialer,
		SampleRate:   cfg.Server.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", relaySrv)
	mux.Handle("/webrtc/offer", relaySrv.OfferHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{Addr: cfg.ListenAddr(), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("relay listening", "addr", cfg.ListenAddr())
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
