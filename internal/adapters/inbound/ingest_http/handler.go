package ingest_http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldops/ftc-queueing/internal/core/diaglog"
	"github.com/fieldops/ftc-queueing/internal/core/schedule"
	"github.com/fieldops/ftc-queueing/internal/events"
	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// RoleManager is the slice of the Discord client the API surface needs.
type RoleManager interface {
	CreateTeamRole(ctx context.Context, teamNumber int) (int64, error)
	DeleteRole(ctx context.Context, roleID int64) error
	Send(ctx context.Context, content string) error
}

// Handler is the ingestion boundary: agent-facing event intake plus the
// admin surface. Every inbound event is appended to the diagnostics log
// before any parsing, so malformed payloads are still observable.
//
// Routes:
//
//	POST /api/v1/update                  (agent key)
//	POST /api/v1/ping                    (agent key)
//	POST /api/v1/initialize              (agent key)
//	POST /api/v1/admin/register_teams    (admin key)
//	POST /api/v1/admin/send_message      (admin key)
//	POST /api/v1/admin/reset             (admin key)
//	GET  /api/v1/diagnostics/agent_ping  (admin key)
//	GET  /health
type Handler struct {
	bus   *events.Bus
	store *schedule.Store
	diag  *diaglog.Store
	roles RoleManager
}

func NewHandler(bus *events.Bus, store *schedule.Store, diag *diaglog.Store, roles RoleManager) *Handler {
	return &Handler{bus: bus, store: store, diag: diag, roles: roles}
}

// RegisterRoutes wires HTTP routes onto the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, agentKey, adminKey string) {
	agent := requireKey(agentKeyHeader, agentKey)
	admin := requireKey(adminKeyHeader, adminKey)

	mux.HandleFunc("POST /api/v1/update", agent(h.handleUpdate))
	mux.HandleFunc("POST /api/v1/ping", agent(h.handlePing))
	mux.HandleFunc("POST /api/v1/initialize", agent(h.handleInitialize))

	mux.HandleFunc("POST /api/v1/admin/register_teams", admin(h.handleRegisterTeams))
	mux.HandleFunc("POST /api/v1/admin/send_message", admin(h.handleSendMessage))
	mux.HandleFunc("POST /api/v1/admin/reset", admin(h.handleReset))
	mux.HandleFunc("GET /api/v1/diagnostics/agent_ping", admin(h.handleAgentPing))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// handleUpdate intakes forwarded scoring events. The raw body is logged
// first; only then is it parsed and dispatched. A parse failure is the
// event's problem, not the stream's: the response is still 200 so the agent
// keeps forwarding.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	h.diag.Append("scoring", body, headerJSON(r))
	telemetry.Metrics.UpdatesReceived.Inc()

	evt, err := events.Parse(body)
	if err != nil {
		telemetry.Warnf("ingest: unparseable update: %v", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged"})
		return
	}

	h.bus.Publish(evt)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	h.diag.Append("ping", []byte(`{}`), headerJSON(r))
	telemetry.Metrics.PingsReceived.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInitialize seeds teams and matches. Team registration allocates
// Discord roles, so a partial failure reports what was committed before the
// error.
func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req events.InitializeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode initialize: %v", err))
		return
	}

	created, skipped, err := h.store.UpsertTeams(r.Context(), req.Teams, h.roles.CreateTeamRole)
	if err != nil {
		telemetry.Errorf("ingest: initialize teams: %v", err)
		writeError(w, http.StatusInternalServerError, "team registration failed")
		return
	}

	if err := h.store.UpsertMatches(r.Context(), req.Matches); err != nil {
		telemetry.Errorf("ingest: initialize matches: %v", err)
		writeError(w, http.StatusInternalServerError, "match upsert failed")
		return
	}

	telemetry.Infof("ingest: initialized  teams_created=%d teams_skipped=%d matches=%d",
		len(created), len(skipped), len(req.Matches))
	writeJSON(w, http.StatusOK, map[string]any{"created": created, "skipped": skipped})
}

func (h *Handler) handleRegisterTeams(w http.ResponseWriter, r *http.Request) {
	var teams []int
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&teams); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode team list: %v", err))
		return
	}

	created, skipped, err := h.store.UpsertTeams(r.Context(), teams, h.roles.CreateTeamRole)
	if err != nil {
		telemetry.Errorf("ingest: register teams: %v", err)
		writeError(w, http.StatusInternalServerError, "team registration failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created, "skipped": skipped})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "decode message")
		return
	}

	if err := h.roles.Send(r.Context(), req.Content); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("send: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// handleReset wipes the schedule store and deletes every registered role.
// Deletions are paced inside the Discord client, so this request can take
// ~0.5s per team.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	roleIDs, err := h.store.Reset(r.Context())
	if err != nil {
		telemetry.Errorf("ingest: reset: %v", err)
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}

	deleted, failed := 0, 0
	for _, id := range roleIDs {
		if err := h.roles.DeleteRole(r.Context(), id); err != nil {
			telemetry.Warnf("ingest: reset: %v", err)
			failed++
			continue
		}
		deleted++
	}
	writeJSON(w, http.StatusOK, map[string]int{"roles_deleted": deleted, "roles_failed": failed})
}

func (h *Handler) handleAgentPing(w http.ResponseWriter, r *http.Request) {
	// Keep-alives land under "ping", score traffic under "scoring"; either
	// one proves the agent is alive, so report whichever arrived last.
	var rec diaglog.Record
	found := false
	for _, category := range []string{"scoring", "ping"} {
		got, err := h.diag.LastByCategory(r.Context(), category)
		if errors.Is(err, diaglog.ErrEmpty) {
			continue
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "diagnostics unavailable")
			return
		}
		if !found || got.Received.After(rec.Received) {
			rec = got
			found = true
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "no messages received from agent yet")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"last_message_time":          rec.Received.Format(time.RFC3339),
		"seconds_since_last_message": time.Since(rec.Received).Seconds(),
	})
}

func headerJSON(r *http.Request) string {
	data, err := json.Marshal(r.Header)
	if err != nil {
		return ""
	}
	return string(data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
