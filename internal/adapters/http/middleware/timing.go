package middleware

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"fitsync/internal/adapters/http/perf"
)

// headerSource is set by the /api read handler to cache, network, stale or none.
const headerSource = "X-Fitsync-Source"

// slowRequestThreshold reads FITSYNC_SLOW_REQUEST_MS once; the default is 200ms.
var slowRequestThreshold = sync.OnceValue(func() time.Duration {
	if v := os.Getenv("FITSYNC_SLOW_REQUEST_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return 200 * time.Millisecond
})

// untimedPaths are probe endpoints scraped every few seconds.
var untimedPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// responseRecorder remembers the first status written by the handler.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.status = http.StatusOK
		rr.wroteHeader = true
	}
	return rr.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// routeLabel names the operation a request hit. Queue ids and cache keys are
// folded so the perf page shows one row per operation, not per item.
func routeLabel(method, path string) string {
	switch {
	case strings.HasPrefix(path, "/offline/queue/"):
		path = "/offline/queue/{id}"
	case strings.HasPrefix(path, "/offline/cache/"):
		path = "/offline/cache/{key}"
	}
	return method + " " + path
}

// Timing returns middleware that logs each local API request and records it
// for /admin/perf. Requests over the slow threshold log at WARN. Reads served
// through the offline cache carry their source in the log line.
func Timing(collector *perf.Collector) func(http.Handler) http.Handler {
	threshold := slowRequestThreshold()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if untimedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				elapsed := time.Since(start)
				durationMs := float64(elapsed.Microseconds()) / 1000.0
				route := routeLabel(r.Method, r.URL.Path)

				attrs := []any{"route", route, "status", rec.status, "duration_ms", durationMs}
				if source := rec.Header().Get(headerSource); source != "" {
					attrs = append(attrs, "source", source)
				}
				if elapsed >= threshold {
					slog.Warn("slow_request", attrs...)
				} else {
					slog.Debug("request", attrs...)
				}

				if collector != nil {
					collector.Record(perf.Entry{
						Kind:       perf.KindRequest,
						Path:       route,
						StatusCode: rec.status,
						DurationMs: durationMs,
						Timestamp:  start,
					})
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
