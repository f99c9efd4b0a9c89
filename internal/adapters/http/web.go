package web

import (
	"log/slog"
	"net/http"
	"time"

	"fitsync/internal/adapters/http/middleware"
	"fitsync/internal/adapters/http/perf"
	"fitsync/internal/adapters/metrics"
	"fitsync/internal/adapters/portal"
	"fitsync/internal/application/offline"
)

// RateLimitPerSecond controls the per-IP rate limit. Tests can increase this.
var RateLimitPerSecond = 20

// Deps holds everything the local API serves from.
type Deps struct {
	Service        *offline.Service
	Portal         *portal.Client
	Verifier       *middleware.TokenVerifier
	Collector      *perf.Collector
	CSRFKey        []byte   // 32 bytes
	TrustedOrigins []string // extra origins allowed to post forms, e.g. the portal's dev server
}

// server carries the handler dependencies. Handlers are methods so that
// several muxes can run in one process.
type server struct {
	svc       *offline.Service
	portal    *portal.Client
	collector *perf.Collector
}

// NewMux wires HTTP handlers for the local API.
// PRE: deps.Service, deps.Portal and deps.Verifier are non-nil; len(deps.CSRFKey) == 32
// POST: Returns the fully wrapped handler
func NewMux(deps Deps) http.Handler {
	s := &server{
		svc:       deps.Service,
		portal:    deps.Portal,
		collector: deps.Collector,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, s)

	if deps.Verifier.Open() {
		slog.Warn("api_auth_disabled", "reason", "no token hashes configured")
	}

	limiter := middleware.NewRateLimiter(RateLimitPerSecond, time.Second)

	// Apply middleware: Timing -> RateLimit -> Auth -> CSRF -> SecurityHeaders -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(deps.CSRFKey, deps.TrustedOrigins),
		middleware.Auth(deps.Verifier),
		middleware.RateLimit(limiter),
		middleware.Timing(deps.Collector),
	)
}

func registerRoutes(mux *http.ServeMux, s *server) {
	member := middleware.RequireRole(middleware.RoleMember)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	// Portal passthrough
	mux.Handle("GET /api/{path...}", member(http.HandlerFunc(s.handleAPIRead)))
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		mux.Handle(method+" /api/{path...}", member(http.HandlerFunc(s.handleAPIWrite)))
	}
	mux.Handle("GET /portal/dashboard", member(http.HandlerFunc(s.handleDashboard)))

	// Offline control
	mux.Handle("GET /offline/status", member(http.HandlerFunc(s.handleOfflineStatus)))
	mux.Handle("POST /offline/connectivity", member(http.HandlerFunc(s.handleConnectivity)))
	mux.Handle("POST /offline/resume", member(http.HandlerFunc(s.handleResume)))
	mux.Handle("POST /offline/sync", member(http.HandlerFunc(s.handleSync)))
	mux.Handle("GET /offline/queue", member(http.HandlerFunc(s.handleQueueList)))
	mux.Handle("DELETE /offline/queue/{id}", admin(http.HandlerFunc(s.handleQueueDiscard)))
	mux.Handle("DELETE /offline/cache", member(http.HandlerFunc(s.handleCacheClear)))
	mux.Handle("DELETE /offline/cache/{key...}", member(http.HandlerFunc(s.handleCacheRemove)))

	// Admin
	mux.Handle("GET /admin/perf", admin(http.HandlerFunc(s.handleAdminPerf)))
}
