// Package handlers implements the operator-facing admin API: health,
// recorded-connection queries, aggregate stats, and a live websocket feed of
// audit records. Attackers never reach this surface; it listens on its own
// address.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sundew-sh/sundew/internal/audit"
	"github.com/sundew-sh/sundew/internal/feed"
	"github.com/sundew-sh/sundew/internal/policy"
	"github.com/sundew-sh/sundew/internal/store"
)

// Set from main during init.
var (
	Store     *store.Store
	Hub       *feed.Hub
	CredStore *policy.Store
	Pipeline  *audit.Pipeline
)

// HealthCheck reports database and pipeline status.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if Store != nil {
		if err := Store.Ping(); err == nil {
			dbStatus = "connected"
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	resp := map[string]interface{}{
		"status":   status,
		"database": dbStatus,
	}
	if Pipeline != nil {
		resp["pipeline_pending"] = Pipeline.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRecords returns persisted audit records, newest first.
//
// Query parameters: peer, since, until (RFC 3339), limit, offset.
func ListRecords(w http.ResponseWriter, r *http.Request) {
	opts := store.QueryOptions{
		PeerAddr: r.URL.Query().Get("peer"),
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		opts.Since = &ts
	}
	if v := r.URL.Query().Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		opts.Until = &ts
	}

	res, err := Store.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetStats returns aggregate honeypot activity.
func GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := Store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}

	resp := map[string]interface{}{
		"connections":    st.Connections,
		"login_attempts": st.LoginAttempts,
	}
	if CredStore != nil {
		resp["accepted_passwords"] = CredStore.Len()
	}
	if Hub != nil {
		resp["feed_subscribers"] = Hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}
