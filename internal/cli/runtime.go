package cli

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"

	"fitsync/internal/adapters/email"
	"fitsync/internal/adapters/http/perf"
	"fitsync/internal/adapters/metrics"
	"fitsync/internal/adapters/portal"
	"fitsync/internal/adapters/storage"
	cacheStore "fitsync/internal/adapters/storage/cache"
	outboxStore "fitsync/internal/adapters/storage/outbox"
	"fitsync/internal/application/offline"
	"fitsync/internal/application/orchestrators"
	"fitsync/internal/config"
)

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runtime is the wired offline stack shared by every command.
type runtime struct {
	cfg       *config.Config
	db        *sql.DB // nil for the memory driver
	collector *perf.Collector
	client    *portal.Client
	sender    email.Sender
	svc       *offline.Service
}

// runtimeOptions tunes openRuntime per command.
type runtimeOptions struct {
	forceOnline bool // treat the portal as reachable regardless of sync.start_online
	metrics     bool // publish Prometheus metrics
}

// openRuntime opens storage and builds the portal client and offline service.
// The service is not initialized; serve calls Init, one-shot commands do not.
// PRE: cfg passed Validate
// POST: Caller must call Close
func openRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg, collector: perf.NewCollector(perf.DefaultRingSize)}

	var (
		caches  cacheStore.Store
		pending outboxStore.Store
	)
	if cfg.Storage.Driver == "memory" {
		slog.Warn("storage_not_durable", "driver", "memory", "detail", "cached responses and queued writes are lost on exit")
		caches = cacheStore.NewMemoryStore()
		pending = outboxStore.NewMemoryStore()
	} else {
		db, dialect, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		rt.db = db
		timed := storage.NewTimedDB(db, rt.collector)
		if err := storage.InitDB(ctx, timed, dialect); err != nil {
			db.Close()
			return nil, err
		}
		caches = cacheStore.NewSQLStore(timed, dialect)
		pending = outboxStore.NewSQLStore(timed, dialect)
	}

	client, err := portal.New(portal.Config{
		BaseURL:   cfg.Portal.BaseURL,
		Token:     cfg.Portal.Token,
		Timeout:   cfg.Portal.Timeout,
		Collector: rt.collector,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.client = client

	if cfg.Notify.ResendKey != "" {
		rt.sender = email.NewResendSender(cfg.Notify.ResendKey, cfg.Notify.From)
	} else {
		rt.sender = email.NewNoopSender()
	}

	deps := offline.Deps{
		CacheStore:  caches,
		OutboxStore: pending,
		Transport:   client,
		OnFailure: orchestrators.NewSyncFailureHandler(orchestrators.NotifySyncFailureDeps{
			Sender: rt.sender,
			To:     cfg.Notify.To,
			From:   cfg.Notify.From,
		}),
	}
	if opts.metrics {
		deps.Metrics = metrics.Recorder{}
	}

	rt.svc = offline.New(deps, offline.Options{
		Namespace:      portal.Subject(cfg.Portal.Token),
		DefaultTTL:     cfg.Cache.DefaultTTL,
		TTLs:           cfg.Cache.TTLs,
		StartOnline:    cfg.Sync.StartOnline || opts.forceOnline,
		SyncInterval:   cfg.Sync.Interval,
		Retry:          cfg.RetryPolicy(),
		NetworkTimeout: cfg.Sync.NetworkTimeout,
	})
	return rt, nil
}

// Close disposes the service and closes storage.
func (rt *runtime) Close() {
	if rt.svc != nil {
		rt.svc.Dispose()
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			slog.Warn("storage_close_failed", "error", err.Error())
		}
	}
}
