package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fitsync/internal/application/listutil"
	"fitsync/internal/application/projections"
	"fitsync/internal/domain/envelope"
	domainOffline "fitsync/internal/domain/offline"
	domainOutbox "fitsync/internal/domain/outbox"
)

// handleOfflineStatus serves connectivity, queue depth and cache ages.
func (s *server) handleOfflineStatus(w http.ResponseWriter, r *http.Request) {
	result, err := projections.QueryGetOfflineStatus(r.Context(), projections.GetOfflineStatusDeps{
		Cache:   s.svc.Cache(),
		Queue:   s.svc.Queue(),
		Monitor: s.svc.Monitor(),
	})
	if err != nil {
		internalError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

// handleConnectivity records a runtime connectivity report.
// An offline->online report starts a background drain.
func (s *server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := strictDecode(r, &req); err != nil || req.Online == nil {
		badRequest(w, `body must be {"online": true|false}`)
		return
	}
	changed := s.svc.SetOnline(*req.Online)
	writeData(w, http.StatusOK, map[string]bool{"online": *req.Online, "changed": changed})
}

// syncResponse is the JSON form of a drain result.
type syncResponse struct {
	Replayed  int    `json:"replayed"`
	Remaining int    `json:"remaining"`
	FailedID  string `json:"failed_id,omitempty"`
}

// writeSyncResult maps a drain result onto a status code.
func writeSyncResult(w http.ResponseWriter, res domainOffline.SyncResult) {
	body := syncResponse{Replayed: res.Replayed, Remaining: res.Remaining, FailedID: res.FailedID}
	data, status := envelope.Envelope{Success: res.Err == nil}, http.StatusOK
	switch {
	case res.Err == nil:
	case errors.Is(res.Err, domainOffline.ErrSyncInProgress):
		status = http.StatusConflict
	case errors.Is(res.Err, domainOffline.ErrNetworkUnavailable):
		status = http.StatusServiceUnavailable
	case res.Halted():
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	if res.Err != nil {
		data.Message = res.Err.Error()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		internalError(w, err)
		return
	}
	data.Data = raw
	writeEnvelope(w, status, data)
}

// handleResume is the visibility hook: the portal UI calls it when it
// returns to the foreground.
func (s *server) handleResume(w http.ResponseWriter, r *http.Request) {
	writeSyncResult(w, s.svc.Resume(r.Context()))
}

// handleSync drains the queue now.
func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	writeSyncResult(w, s.svc.SyncOfflineData(r.Context()))
}

// queuedMutation is the JSON form of a pending mutation. Bodies are omitted.
type queuedMutation struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

type queuePage struct {
	Items []queuedMutation  `json:"items"`
	Page  listutil.PageInfo `json:"page"`
}

// handleQueueList serves pending mutations in replay order.
// Query: page, per_page.
func (s *server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := listutil.ParsePageParams(r.URL.Query())

	total, err := s.svc.Queue().Size(ctx)
	if err != nil {
		internalError(w, err)
		return
	}
	info := listutil.NewPageInfo(params.Page, params.PerPage, total)
	ms, err := s.svc.Queue().List(ctx, info.PerPage, info.Offset())
	if err != nil {
		internalError(w, err)
		return
	}

	page := queuePage{Items: make([]queuedMutation, 0, len(ms)), Page: info}
	for _, m := range ms {
		page.Items = append(page.Items, queuedMutation{
			ID:         m.ID,
			Method:     m.Method,
			Path:       m.Path,
			EnqueuedAt: m.EnqueuedAt.UTC(),
			Attempts:   m.Attempts,
			LastError:  m.ErrorMessage,
		})
	}
	writeData(w, http.StatusOK, page)
}

// handleQueueDiscard removes a mutation that can never succeed.
func (s *server) handleQueueDiscard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Queue().Discard(r.Context(), id); err != nil {
		if errors.Is(err, domainOutbox.ErrNotFound) {
			writeEnvelope(w, http.StatusNotFound, envelope.Fail(err.Error()))
			return
		}
		internalError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"discarded": id})
}

// handleCacheClear drops every cached response for the current member.
func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Cache().Clear(r.Context()); err != nil {
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCacheRemove drops one cached response. A query string is part of the
// key, matching the default keys of /api reads.
func (s *server) handleCacheRemove(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		badRequest(w, "cache key is required")
		return
	}
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	if err := s.svc.Cache().Remove(r.Context(), key); err != nil {
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
