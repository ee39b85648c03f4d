package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldops/ftc-queueing/internal/adapters/inbound/scoring_ws"
	"github.com/fieldops/ftc-queueing/internal/adapters/outbound/relay_http"
	"github.com/fieldops/ftc-queueing/internal/adapters/outbound/scoring_http"
	"github.com/fieldops/ftc-queueing/internal/config"
	"github.com/fieldops/ftc-queueing/internal/events"
	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))

	if cfg.EventCode == "" {
		telemetry.Errorf("SCORING_EVENT_CODE is required")
		os.Exit(1)
	}
	if cfg.AgentAPIKey == "" {
		telemetry.Errorf("AGENT_API_KEY is required")
		os.Exit(1)
	}

	telemetry.Infof("Starting agent  event=%s scoring=%s ingest=%s",
		cfg.EventCode, cfg.ScoringHost, cfg.IngestURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	relay := relay_http.NewClient(cfg.IngestURL, cfg.AgentAPIKey)
	relay.Attach(ctx, bus)

	// Seed the cloud side with the event's team list and match schedule.
	// Failure here is non-fatal: live updates still flow, and an admin can
	// re-run initialization.
	bootstrap(ctx, cfg, relay)

	stream := scoring_ws.NewClient(cfg.ScoringHost, cfg.EventCode, bus)
	done := make(chan struct{})
	go func() {
		stream.ConnectWithRetry(ctx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")
	cancel()

	// Let the in-flight forward finish or fail cleanly.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	telemetry.Infof("Shutdown complete  received=%d  parse_errors=%d  reconnects=%d  forward_errors=%d",
		telemetry.Metrics.StreamMessagesReceived.Value(),
		telemetry.Metrics.StreamParseErrors.Value(),
		telemetry.Metrics.StreamReconnects.Value(),
		telemetry.Metrics.ForwardErrors.Value(),
	)
}

func bootstrap(ctx context.Context, cfg *config.Config, relay *relay_http.Client) {
	scoring := scoring_http.NewClient(cfg.ScoringHost, cfg.EventCode)

	teams, err := scoring.Teams(ctx)
	if err != nil {
		telemetry.Warnf("agent: fetch team list: %v", err)
		return
	}
	matches, err := scoring.Schedule(ctx)
	if err != nil {
		telemetry.Warnf("agent: fetch schedule: %v", err)
		return
	}

	if err := relay.Initialize(ctx, events.InitializeRequest{Teams: teams, Matches: matches}); err != nil {
		telemetry.Warnf("agent: initialize: %v", err)
		return
	}
	telemetry.Infof("agent: initialized ingest with %d teams, %d matches", len(teams), len(matches))
}
