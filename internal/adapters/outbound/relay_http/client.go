package relay_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fieldops/ftc-queueing/internal/events"
	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

const agentKeyHeader = "X-AGENT-KEY"

// Client forwards normalized stream events to the cloud ingestion API.
// Delivery is best-effort: a failed POST is logged and dropped, and the
// next stream message proceeds. The stream's periodic keep-alive means a
// dropped update never hides a dead agent.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// The scoring stream bursts on match transitions; 20 req/s is far
		// above anything the field produces but caps a runaway loop.
		limiter: rate.NewLimiter(rate.Limit(20), 20),
	}
}

// Update forwards a raw scoring event to POST /api/v1/update.
func (c *Client) Update(ctx context.Context, raw json.RawMessage) error {
	return c.post(ctx, "/api/v1/update", raw)
}

// Ping reports stream liveness to POST /api/v1/ping.
func (c *Client) Ping(ctx context.Context) error {
	return c.post(ctx, "/api/v1/ping", []byte(`{}`))
}

// Initialize seeds the ingestion side's schedule store.
func (c *Client) Initialize(ctx context.Context, req events.InitializeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal initialize: %w", err)
	}
	return c.post(ctx, "/api/v1/initialize", body)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(agentKeyHeader, c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	telemetry.Metrics.ForwardLatency.Record(time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status=%d", url, resp.StatusCode)
	}
	return nil
}

// Attach subscribes the forwarder to the bus: liveness pongs become ping
// calls, everything else is forwarded verbatim to update. Errors are
// counted and logged here so the stream loop never sees them.
func (c *Client) Attach(ctx context.Context, bus *events.Bus) {
	forward := func(e events.Event) error {
		var err error
		if e.Type == events.TypeLivenessPong {
			err = c.Ping(ctx)
		} else {
			err = c.Update(ctx, e.Raw)
		}
		if err != nil {
			telemetry.Metrics.ForwardErrors.Inc()
			telemetry.Warnf("relay: forward %s: %v", e.Type, err)
		}
		return nil
	}

	bus.Subscribe(events.TypeLivenessPong, forward)
	bus.Subscribe(events.TypeMatchStarted, forward)
	bus.Subscribe(events.TypeGenericUpdate, forward)
}
