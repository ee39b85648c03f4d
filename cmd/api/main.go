package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldops/ftc-queueing/internal/adapters/inbound/ingest_http"
	"github.com/fieldops/ftc-queueing/internal/adapters/outbound/discord"
	"github.com/fieldops/ftc-queueing/internal/config"
	"github.com/fieldops/ftc-queueing/internal/core/diaglog"
	"github.com/fieldops/ftc-queueing/internal/core/queue"
	"github.com/fieldops/ftc-queueing/internal/core/schedule"
	"github.com/fieldops/ftc-queueing/internal/events"
	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting ingestion API")

	if cfg.AgentAPIKey == "" || cfg.AdminAPIKey == "" {
		telemetry.Errorf("AGENT_API_KEY and ADMIN_API_KEY are required")
		os.Exit(1)
	}
	if cfg.DiscordToken == "" || cfg.DiscordServerID == 0 || cfg.DiscordChannelID == 0 {
		telemetry.Errorf("Discord credentials missing — set DISCORD_TOKEN, DISCORD_SERVER_ID, DISCORD_NOTIFICATION_CHANNEL_ID")
		os.Exit(1)
	}

	// ── Stores ──────────────────────────────────────────────────
	store, err := schedule.Open(cfg.SchedulePath)
	if err != nil {
		telemetry.Errorf("Schedule store: %v", err)
		os.Exit(1)
	}

	diag, err := diaglog.Open(cfg.DiagStorePath)
	if err != nil {
		telemetry.Warnf("Diagnostics log disabled: %v", err)
	}

	// ── Discord + notifier ──────────────────────────────────────
	sink := discord.NewClient(cfg.DiscordToken, cfg.DiscordServerID, cfg.DiscordChannelID, cfg.RoleDeletePace)

	templates, err := config.LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		telemetry.Errorf("Templates: %v", err)
		os.Exit(1)
	}
	notifier := queue.NewNotifier(store, sink, templates, cfg.Lookahead)

	bus := events.NewBus()
	bus.Subscribe(events.TypeMatchStarted, func(e events.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return notifier.HandleMatchStart(ctx, e.MatchNumber)
	})

	// ── HTTP server ─────────────────────────────────────────────
	handler := ingest_http.NewHandler(bus, store, diag, sink)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, cfg.AgentAPIKey, cfg.AdminAPIKey)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // admin reset paces role deletions
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Errorf("HTTP server: %v", err)
			os.Exit(1)
		}
	}()
	telemetry.Infof("Ingestion API listening on %q  lookahead=%d", addr, cfg.Lookahead)

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	store.Close()
	diag.Close()

	telemetry.Infof("Shutdown complete  updates=%d  pings=%d  match_starts=%d  announced=%d  errors=%d",
		telemetry.Metrics.UpdatesReceived.Value(),
		telemetry.Metrics.PingsReceived.Value(),
		telemetry.Metrics.MatchStarts.Value(),
		telemetry.Metrics.AnnouncementsSent.Value(),
		telemetry.Metrics.AnnouncementErrors.Value(),
	)
}
