package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fitsync/internal/adapters/http/perf"
)

func recordedRoutes(t *testing.T, c *perf.Collector) map[string]perf.PathStat {
	t.Helper()
	out := map[string]perf.PathStat{}
	for _, s := range c.Snapshot(time.Now().Add(-time.Minute), 100).SlowestPaths {
		out[s.Path] = s
	}
	return out
}

// TestTiming_RouteLabels verifies queue ids and cache keys fold into one
// row per operation while portal paths stay distinct.
func TestTiming_RouteLabels(t *testing.T) {
	collector := perf.NewCollector(100)
	handler := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	requests := []struct{ method, target string }{
		{"DELETE", "/offline/queue/5f0c8a8e-1b7d-4c1e-9a53-2f8e0d7c6b41"},
		{"DELETE", "/offline/queue/0b1d2c3e-4f5a-4b6c-8d7e-9f0a1b2c3d4e"},
		{"DELETE", "/offline/cache/members/me/membership"},
		{"DELETE", "/offline/cache/weekly-workout"},
		{"GET", "/api/members/me/membership"},
		{"GET", "/api/members/me/progress/summary?range=4w"},
	}
	for _, req := range requests {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(req.method, req.target, nil))
	}

	got := recordedRoutes(t, collector)
	want := map[string]int{
		"DELETE /offline/queue/{id}":           2,
		"DELETE /offline/cache/{key}":          2,
		"GET /api/members/me/membership":       1,
		"GET /api/members/me/progress/summary": 1,
	}
	if len(got) != len(want) {
		t.Fatalf("routes = %v, want %v", got, want)
	}
	for route, count := range want {
		if got[route].Count != count {
			t.Errorf("%s count = %d, want %d", route, got[route].Count, count)
		}
	}
}

// TestTiming_SkipsProbes verifies health and metrics scrapes are not recorded.
func TestTiming_SkipsProbes(t *testing.T) {
	collector := perf.NewCollector(100)
	handler := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, path := range []string{"/healthz", "/metrics"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rr.Code)
		}
	}
	if n := collector.TotalRecorded(); n != 0 {
		t.Errorf("TotalRecorded = %d, want 0", n)
	}
}

// TestResponseRecorder_Status verifies the status kept for the ways a
// handler can answer.
func TestResponseRecorder_Status(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"implicit 200 on write", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"success":true}`)) }, http.StatusOK},
		{"nothing written", func(w http.ResponseWriter, r *http.Request) {}, http.StatusOK},
		{"queued write", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }, http.StatusAccepted},
		{"first status wins", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.WriteHeader(http.StatusOK)
		}, http.StatusServiceUnavailable},
		{"write then header", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
			w.WriteHeader(http.StatusInternalServerError)
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &responseRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
			tt.handler(rec, httptest.NewRequest("GET", "/api/classes", nil))
			if rec.status != tt.want {
				t.Errorf("status = %d, want %d", rec.status, tt.want)
			}
		})
	}
}

// TestTiming_NilCollector verifies the middleware serves without a collector.
func TestTiming_NilCollector(t *testing.T) {
	handler := Timing(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerSource, "cache")
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/members/me/membership", nil))
	if rr.Code != http.StatusOK || rr.Header().Get(headerSource) != "cache" {
		t.Errorf("status %d source %q, want 200 cache", rr.Code, rr.Header().Get(headerSource))
	}
}

// TestTiming_RecordsPanickingHandler verifies the entry is recorded before a
// panic propagates to net/http's recovery.
func TestTiming_RecordsPanickingHandler(t *testing.T) {
	collector := perf.NewCollector(10)
	handler := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	defer func() {
		if recover() == nil {
			t.Fatal("panic did not propagate")
		}
		if n := collector.TotalRecorded(); n != 1 {
			t.Errorf("TotalRecorded = %d, want 1", n)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/offline/sync", nil))
}

// TestTiming_ConcurrentRequests verifies each request gets its own recorder.
func TestTiming_ConcurrentRequests(t *testing.T) {
	collector := perf.NewCollector(1000)
	handler := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			method, want := http.MethodGet, http.StatusOK
			if i%2 == 0 {
				method, want = http.MethodPost, http.StatusAccepted
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(method, "/api/bookings", nil))
			if rr.Code != want {
				t.Errorf("%s status = %d, want %d", method, rr.Code, want)
			}
		}(i)
	}
	wg.Wait()

	routes := recordedRoutes(t, collector)
	if routes["GET /api/bookings"].Count != 25 || routes["POST /api/bookings"].Count != 25 {
		t.Errorf("routes = %+v, want 25 GET and 25 POST", routes)
	}
}

// TestRouteLabel verifies the folding rules directly.
func TestRouteLabel(t *testing.T) {
	tests := []struct{ method, path, want string }{
		{"DELETE", "/offline/queue/abc", "DELETE /offline/queue/{id}"},
		{"DELETE", "/offline/cache/members/me", "DELETE /offline/cache/{key}"},
		{"DELETE", "/offline/cache", "DELETE /offline/cache"},
		{"GET", "/offline/queue", "GET /offline/queue"},
		{"GET", "/portal/dashboard", "GET /portal/dashboard"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.method, tt.path); got != tt.want {
			t.Errorf("routeLabel(%s, %s) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}
