package ingest_http

import (
	"crypto/subtle"
	"net/http"
)

const (
	agentKeyHeader = "X-AGENT-KEY"
	adminKeyHeader = "X-ADMIN-KEY"
)

// requireKey builds a middleware that rejects requests whose shared-secret
// header doesn't match. A rejected request never reaches core logic. An
// empty configured key disables the route entirely rather than leaving it
// open.
func requireKey(header, key string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusForbidden, "could not validate API key")
				return
			}
			next(w, r)
		}
	}
}
