package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fitsync/internal/application/offline"
	"fitsync/internal/application/projections"
	"fitsync/internal/domain/envelope"
)

// Local API headers.
const (
	headerCacheKey   = "X-Fitsync-Cache-Key"  // request: cache key, default path+query
	headerMaxAge     = "X-Fitsync-Max-Age"    // request: Go duration freshness bound
	headerInvalidate = "X-Fitsync-Invalidate" // request: comma-separated keys dropped after a live write
	headerSource     = "X-Fitsync-Source"     // response: cache, network, stale or none
	headerStoredAt   = "X-Fitsync-Stored-At"  // response: when the served data was cached
)

// maxBodyBytes caps a write forwarded to the portal.
const maxBodyBytes = 1 << 20

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeEnvelope(w, http.StatusInternalServerError, envelope.Fail("internal server error"))
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeEnvelope writes env as the response body.
func writeEnvelope(w http.ResponseWriter, status int, env envelope.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Warn("response_write_failed", "error", err.Error())
	}
}

// writeData wraps v in a success envelope.
func writeData(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		internalError(w, err)
		return
	}
	writeEnvelope(w, status, envelope.OK(data))
}

func badRequest(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusBadRequest, envelope.Fail(message))
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// network adapts the portal client to the orchestrator's read signature.
func (s *server) network(path string) offline.NetworkFunc {
	return s.portal.Fetch(path)
}

// handleDashboard serves the member dashboard, one section per portal key.
// Cache-Control: no-cache forces a refresh of every section.
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	result, err := projections.QueryGetMemberDashboard(r.Context(), projections.GetMemberDashboardQuery{
		ForceRefresh: wantsRefresh(r),
	}, projections.GetMemberDashboardDeps{
		Fetcher: s.svc,
		Network: s.network,
	})
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			return
		}
		internalError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleAdminPerf serves the perf collector snapshot.
// Query: window (Go duration, default 15m), top (default 10).
func (s *server) handleAdminPerf(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeEnvelope(w, http.StatusNotFound, envelope.Fail("perf collector disabled"))
		return
	}
	window := 15 * time.Minute
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			badRequest(w, "window must be a positive duration")
			return
		}
		window = d
	}
	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			badRequest(w, "top must be between 1 and 100")
			return
		}
		top = n
	}
	writeData(w, http.StatusOK, s.collector.Snapshot(time.Now().Add(-window), top))
}

func wantsRefresh(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Cache-Control")), "no-cache")
}

func setStoredAt(w http.ResponseWriter, storedAt time.Time) {
	if !storedAt.IsZero() {
		w.Header().Set(headerStoredAt, storedAt.UTC().Format(http.TimeFormat))
	}
}
