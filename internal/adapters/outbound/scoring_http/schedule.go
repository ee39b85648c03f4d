package scoring_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldops/ftc-queueing/internal/events"
)

// Client pulls the event's match schedule and team list from the scoring
// system's REST API. Used once at agent startup to seed the ingestion side;
// live updates afterwards come from the stream.
type Client struct {
	host       string
	code       string
	httpClient *http.Client
}

func NewClient(host, code string) *Client {
	return &Client{
		host:       host,
		code:       code,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type matchList struct {
	Matches []struct {
		Number    int    `json:"matchNumber"`
		ShortName string `json:"matchName"`
		Field     int    `json:"field"`
		Red1      int    `json:"red1"`
		Red2      int    `json:"red2"`
		Blue1     int    `json:"blue1"`
		Blue2     int    `json:"blue2"`
	} `json:"matches"`
}

type teamList struct {
	TeamNumbers []int `json:"teamNumbers"`
}

// Schedule fetches the qualification match list for the event code.
func (c *Client) Schedule(ctx context.Context) ([]events.MatchSeed, error) {
	var ml matchList
	if err := c.get(ctx, fmt.Sprintf("/api/v1/events/%s/matches/", c.code), &ml); err != nil {
		return nil, err
	}

	seeds := make([]events.MatchSeed, 0, len(ml.Matches))
	for _, m := range ml.Matches {
		m := m
		seeds = append(seeds, events.MatchSeed{
			Number:    m.Number,
			ShortName: &m.ShortName,
			Field:     &m.Field,
			Red1:      &m.Red1,
			Red2:      &m.Red2,
			Blue1:     &m.Blue1,
			Blue2:     &m.Blue2,
		})
	}
	return seeds, nil
}

// Teams fetches the event's team numbers.
func (c *Client) Teams(ctx context.Context) ([]int, error) {
	var tl teamList
	if err := c.get(ctx, fmt.Sprintf("/api/v1/events/%s/teams/", c.code), &tl); err != nil {
		return nil, err
	}
	return tl.TeamNumbers, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	url := "http://" + c.host + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status=%d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
