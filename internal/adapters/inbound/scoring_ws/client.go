package scoring_ws

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldops/ftc-queueing/internal/events"
	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

const (
	minBackoff  = 1 * time.Second
	maxBackoff  = 30 * time.Second
	readTimeout = 90 * time.Second
)

// Client maintains the subscription to the FTC scoring system's event
// stream for a single event code, classifies incoming frames, and publishes
// them to the bus.
type Client struct {
	host string // scoring system host:port
	code string // event code, e.g. "USNYLIQ1"
	bus  *events.Bus
}

func NewClient(host, code string, bus *events.Bus) *Client {
	return &Client{host: host, code: code, bus: bus}
}

// StreamURL builds the scoring system stream endpoint for the client's
// event code.
func (c *Client) StreamURL() string {
	u := url.URL{
		Scheme:   "ws",
		Host:     c.host,
		Path:     "/api/v2/stream/",
		RawQuery: url.Values{"code": {c.code}}.Encode(),
	}
	return u.String()
}

// ConnectWithRetry connects to the scoring stream and reconnects on failure
// with exponential backoff. Blocks until ctx is cancelled.
func (c *Client) ConnectWithRetry(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connStart := time.Now()
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		// A connection that lived a while resets the backoff ladder.
		if time.Since(connStart) > time.Minute {
			attempt = 0
		}

		attempt++
		telemetry.Metrics.StreamReconnects.Inc()
		backoff := time.Duration(float64(minBackoff) * math.Pow(2, float64(min(attempt-1, 5))))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		if err != nil {
			telemetry.Warnf("scoring_ws[%s]: connection lost (attempt %d): %v — retrying in %s",
				c.code, attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Reset deadline on server pings so quiet periods between matches don't
	// trigger a timeout.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	telemetry.Infof("scoring_ws[%s]: connected to %s", c.code, c.host)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		telemetry.Metrics.StreamMessagesReceived.Inc()

		evt, err := events.Parse(raw)
		if err != nil {
			telemetry.Metrics.StreamParseErrors.Inc()
			var pe *events.ParseError
			if errors.As(err, &pe) {
				telemetry.Warnf("scoring_ws[%s]: %v", c.code, pe)
			} else {
				telemetry.Warnf("scoring_ws[%s]: parse: %v", c.code, err)
			}
			continue
		}

		if evt.Type == events.TypeMatchStarted {
			telemetry.Debugf("scoring_ws[%s]: match %d started", c.code, evt.MatchNumber)
		}

		c.bus.Publish(evt)
	}
}
