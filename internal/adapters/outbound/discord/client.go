package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

const apiBase = "https://discord.com/api/v10"

// Client talks to the Discord REST API for role management and channel
// messages. Role deletion is paced to stay inside Discord's rate limits;
// role creation is deduped per team number so concurrent registrations of
// the same team allocate a single role.
type Client struct {
	baseURL    string
	token      string
	serverID   int64
	channelID  int64
	httpClient *http.Client

	createGroup   singleflight.Group
	deleteLimiter *rate.Limiter
}

func NewClient(token string, serverID, channelID int64, deletePace time.Duration) *Client {
	if deletePace <= 0 {
		deletePace = 500 * time.Millisecond
	}
	return &Client{
		baseURL:       apiBase,
		token:         token,
		serverID:      serverID,
		channelID:     channelID,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		deleteLimiter: rate.NewLimiter(rate.Every(deletePace), 1),
	}
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", "DiscordBot (ftc-queueing, v0.1.0)")
}

type roleResponse struct {
	ID string `json:"id"`
}

// CreateTeamRole creates a mentionable "Team NNNN" role and returns its ID.
// A failure here is fatal to registration: without a role there is no
// notification target to store.
func (c *Client) CreateTeamRole(ctx context.Context, teamNumber int) (int64, error) {
	v, err, _ := c.createGroup.Do(strconv.Itoa(teamNumber), func() (any, error) {
		return c.createTeamRole(ctx, teamNumber)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *Client) createTeamRole(ctx context.Context, teamNumber int) (int64, error) {
	body := map[string]any{
		"name":        fmt.Sprintf("Team %d", teamNumber),
		"permissions": "0",
		"mentionable": true,
		"hoist":       false,
		"colors":      map[string]any{"primary_color": rand.Intn(0xFFFFFF + 1)},
	}

	raw, status, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/guilds/%d/roles", c.serverID), body)
	if err != nil {
		return 0, fmt.Errorf("create role for team %d: %w", teamNumber, err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("create role for team %d: status=%d", teamNumber, status)
	}

	var resp roleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("create role for team %d: decode: %w", teamNumber, err)
	}
	id, err := strconv.ParseInt(resp.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("create role for team %d: bad role id %q", teamNumber, resp.ID)
	}

	telemetry.Metrics.RolesCreated.Inc()
	return id, nil
}

// Send posts a message to the fixed notification channel.
func (c *Client) Send(ctx context.Context, content string) error {
	body := map[string]any{"content": content, "tts": false}

	_, status, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%d/messages", c.channelID), body)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if status == http.StatusTooManyRequests {
		telemetry.Warnf("discord: rate limited on channel message")
		return fmt.Errorf("send message: rate limited")
	}
	if status >= 300 {
		return fmt.Errorf("send message: status=%d", status)
	}
	return nil
}

// DeleteRole removes a role, waiting out the pacing limiter first. Used by
// the admin reset, which walks every registered team.
func (c *Client) DeleteRole(ctx context.Context, roleID int64) error {
	if err := c.deleteLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("delete role %d: %w", roleID, err)
	}

	_, status, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/guilds/%d/roles/%d", c.serverID, roleID), nil)
	if err != nil {
		return fmt.Errorf("delete role %d: %w", roleID, err)
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("delete role %d: status=%d", roleID, status)
	}
	return nil
}

// RolePing formats a role mention that pings every member holding the role.
func (c *Client) RolePing(roleID int64) string {
	return fmt.Sprintf("<@&%d>", roleID)
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	c.headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return raw, resp.StatusCode, nil
}
