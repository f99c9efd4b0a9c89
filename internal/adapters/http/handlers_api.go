package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"fitsync/internal/application/offline"
	"fitsync/internal/domain/envelope"
	domainOffline "fitsync/internal/domain/offline"
	domainOutbox "fitsync/internal/domain/outbox"
)

// forwardedHeaders are copied from a local write to the portal request.
var forwardedHeaders = []string{"If-Match", "If-Unmodified-Since"}

// portalPath rebuilds the upstream path, query included.
func portalPath(r *http.Request) string {
	path := "/" + r.PathValue("path")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return path
}

// defaultCacheKey is the portal path and query without the leading slash,
// so DELETE /offline/cache/{key...} can address it as written.
func defaultCacheKey(r *http.Request) string {
	return strings.TrimPrefix(portalPath(r), "/")
}

// handleAPIRead serves a portal GET through the offline cache.
// The response carries the portal envelope and X-Fitsync-Source.
func (s *server) handleAPIRead(w http.ResponseWriter, r *http.Request) {
	path := portalPath(r)
	key := r.Header.Get(headerCacheKey)
	if key == "" {
		key = defaultCacheKey(r)
	}

	opts := offline.FetchOptions{ForceRefresh: wantsRefresh(r)}
	if v := r.Header.Get(headerMaxAge); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			badRequest(w, headerMaxAge+" must be a non-negative duration")
			return
		}
		opts.MaxAge = d
	}

	res := s.svc.FetchWithCache(r.Context(), key, s.network(path), opts)
	w.Header().Set(headerSource, res.State.Source())
	setStoredAt(w, res.StoredAt)

	if res.State == domainOffline.StateNoDataAvailable {
		msg := res.Message
		if msg == "" && res.Err != nil {
			msg = res.Err.Error()
		}
		writeEnvelope(w, http.StatusServiceUnavailable, envelope.Fail(msg))
		return
	}
	writeEnvelope(w, http.StatusOK, envelope.Envelope{Success: true, Data: res.Data, Message: res.Message})
}

// handleAPIWrite sends a portal write live, or queues it while offline.
// Queued writes answer 202 with the pending mutation id.
func (s *server) handleAPIWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		badRequest(w, "could not read request body")
		return
	}
	if len(body) > maxBodyBytes {
		writeEnvelope(w, http.StatusRequestEntityTooLarge, envelope.Fail("request body too large"))
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		badRequest(w, "request body must be JSON")
		return
	}

	headers := map[string]string{}
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			headers[h] = v
		}
	}

	res := s.svc.Mutate(r.Context(), offline.MutationRequest{
		Method:     r.Method,
		Path:       portalPath(r),
		Headers:    headers,
		Body:       body,
		Invalidate: splitList(r.Header.Get(headerInvalidate)),
	})

	switch {
	case res.Queued:
		writeData(w, http.StatusAccepted, map[string]any{"queued": true, "id": res.ID})
	case isValidationError(res.Err):
		badRequest(w, res.Err.Error())
	case errors.Is(res.Err, envelope.ErrUnsuccessful):
		msg := res.Message
		if msg == "" {
			msg = res.Err.Error()
		}
		writeEnvelope(w, http.StatusUnprocessableEntity, envelope.Envelope{Success: false, Data: res.Data, Message: msg})
	case res.Err != nil && !errors.Is(res.Err, domainOffline.ErrNetworkFailure):
		internalError(w, res.Err)
	case res.Err != nil:
		writeEnvelope(w, http.StatusBadGateway, envelope.Fail(res.Err.Error()))
	default:
		writeEnvelope(w, http.StatusOK, envelope.Envelope{Success: true, Data: res.Data, Message: res.Message})
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, domainOutbox.ErrInvalidMethod) ||
		errors.Is(err, domainOutbox.ErrEmptyPath) ||
		errors.Is(err, domainOutbox.ErrInvalidBody)
}

// splitList parses a comma-separated header value.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
