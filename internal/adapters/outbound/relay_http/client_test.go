package relay_http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldops/ftc-queueing/internal/events"
)

func TestForwardPaths(t *testing.T) {
	var gotPath, gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-AGENT-KEY")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	ctx := context.Background()

	if err := c.Update(ctx, []byte(`{"updateType":"MATCH_START"}`)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if gotPath != "/api/v1/update" {
		t.Errorf("update path = %q", gotPath)
	}
	if gotKey != "sekrit" {
		t.Errorf("agent key = %q", gotKey)
	}
	if gotBody != `{"updateType":"MATCH_START"}` {
		t.Errorf("body = %q", gotBody)
	}

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if gotPath != "/api/v1/ping" {
		t.Errorf("ping path = %q", gotPath)
	}

	req := events.InitializeRequest{Teams: []int{1, 2}}
	if err := c.Initialize(ctx, req); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if gotPath != "/api/v1/initialize" {
		t.Errorf("initialize path = %q", gotPath)
	}
}

func TestForwardNonSuccessIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "wrong")
	if err := c.Update(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("Update with 403 response succeeded, want error")
	}
}

func TestForwardTransportErrorIsError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "k")
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("Ping against closed port succeeded, want error")
	}
}

// Attach routes liveness pongs to ping and everything else to update, and
// swallows delivery errors so the stream loop survives them.
func TestAttachRouting(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	bus := events.NewBus()
	c.Attach(context.Background(), bus)

	pong, err := events.Parse([]byte("pong"))
	if err != nil {
		t.Fatal(err)
	}
	start, err := events.Parse([]byte(`{"updateType":"MATCH_START","payload":{"number":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	other, err := events.Parse([]byte(`{"updateType":"MATCH_COMMIT","payload":{"number":1}}`))
	if err != nil {
		t.Fatal(err)
	}

	bus.Publish(pong)
	bus.Publish(start)
	bus.Publish(other)

	want := []string{"/api/v1/ping", "/api/v1/update", "/api/v1/update"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}
