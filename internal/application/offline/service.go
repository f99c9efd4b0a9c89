// Package offline gives the portal offline-first behaviour: reads go through
// a TTL cache and fall back to the last known value, writes made while
// offline are queued and replayed in order once connectivity returns.
//
// A Service is an explicitly constructed object with an Init/Dispose
// lifecycle. Several services can run side by side in one process.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fitsync/internal/adapters/portal"
	cacheStore "fitsync/internal/adapters/storage/cache"
	outboxStore "fitsync/internal/adapters/storage/outbox"
	"fitsync/internal/application/retry"
	"fitsync/internal/domain/connectivity"
	"fitsync/internal/domain/envelope"
	domainOffline "fitsync/internal/domain/offline"
	domainOutbox "fitsync/internal/domain/outbox"
)

// DefaultNetworkTimeout bounds one network attempt, retries included.
const DefaultNetworkTimeout = 30 * time.Second

// drainTimeout bounds a background drain.
const drainTimeout = 5 * time.Minute

// NetworkFunc performs one read against the portal.
type NetworkFunc func(ctx context.Context) (envelope.Envelope, error)

// Transport sends a request to the portal. *portal.Client satisfies it.
type Transport interface {
	Do(ctx context.Context, req portal.Request) (envelope.Envelope, error)
}

// Metrics receives orchestrator events. metrics.Recorder satisfies it.
type Metrics interface {
	FetchCompleted(state string)
	MutationQueued()
	QueueDepth(n int)
	ReplayCompleted(ok bool)
	SyncCompleted(result string, duration time.Duration)
	ConnectivityChanged(isOnline bool)
	Online(isOnline bool)
}

type nopMetrics struct{}

func (nopMetrics) FetchCompleted(string)               {}
func (nopMetrics) MutationQueued()                     {}
func (nopMetrics) QueueDepth(int)                      {}
func (nopMetrics) ReplayCompleted(bool)                {}
func (nopMetrics) SyncCompleted(string, time.Duration) {}
func (nopMetrics) ConnectivityChanged(bool)            {}
func (nopMetrics) Online(bool)                         {}

// SyncFailure describes the mutation that halted a drain.
type SyncFailure struct {
	Mutation  domainOutbox.PendingMutation
	Remaining int
	Err       error
}

// FailureHandler is told when a drain halts on a failed replay.
type FailureHandler func(ctx context.Context, f SyncFailure)

// Deps provides the collaborators of a Service.
type Deps struct {
	CacheStore  cacheStore.Store
	OutboxStore outboxStore.Store
	Transport   Transport
	Monitor     *Monitor       // optional; created from Options.StartOnline when nil
	Metrics     Metrics        // optional
	OnFailure   FailureHandler // optional
	Now         func() time.Time
	GenerateID  func() string
}

// Options tunes a Service.
type Options struct {
	Namespace      string                   // cache scope, usually the portal member id
	DefaultTTL     time.Duration            // TTL for keys missing from TTLs
	TTLs           map[string]time.Duration // per-key TTL
	StartOnline    bool                     // initial monitor state when Deps.Monitor is nil
	SyncInterval   time.Duration            // periodic drain; 0 disables it
	Retry          retry.Policy             // zero value makes one attempt
	NetworkTimeout time.Duration            // 0 uses DefaultNetworkTimeout
}

// Service is the offline orchestrator.
type Service struct {
	cache     *Cache
	queue     *Queue
	monitor   *Monitor
	transport Transport
	metrics   Metrics
	onFailure FailureHandler
	opts      Options
	now       func() time.Time
	newID     func() string

	fetches singleflight.Group

	drainMu  sync.Mutex
	draining bool

	lifeMu      sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()
	stopCh      chan struct{}
	baseCtx     context.Context
	cancelBase  context.CancelFunc
	bg          sync.WaitGroup
}

// New builds a Service. It does nothing until Init is called.
// PRE: deps.CacheStore, deps.OutboxStore and deps.Transport are non-nil
// POST: Returns a service with its own cache, queue and monitor views
func New(deps Deps, opts Options) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	monitor := deps.Monitor
	if monitor == nil {
		monitor = NewMonitor(opts.StartOnline, now)
	}
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	if opts.NetworkTimeout <= 0 {
		opts.NetworkTimeout = DefaultNetworkTimeout
	}
	queue := NewQueue(deps.OutboxStore, now, deps.GenerateID)
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		cache:      NewCache(deps.CacheStore, opts.Namespace, now),
		queue:      queue,
		monitor:    monitor,
		transport:  deps.Transport,
		metrics:    m,
		onFailure:  deps.OnFailure,
		opts:       opts,
		now:        now,
		newID:      queue.generateID,
		stopCh:     make(chan struct{}),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

// Init subscribes to connectivity transitions, publishes the initial gauges,
// starts the periodic worker and drains any mutations left from a previous run.
// PRE: Init has not been called
// POST: The service reacts to offline->online transitions until Dispose
func (s *Service) Init(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.started || s.closed {
		s.lifeMu.Unlock()
		return errors.New("offline service already initialized")
	}
	s.started = true
	s.unsubscribe = s.monitor.Subscribe(s.onTransition)
	s.lifeMu.Unlock()

	s.metrics.Online(s.monitor.IsOnline())
	pending, err := s.queue.Size(ctx)
	if err != nil {
		return err
	}
	s.metrics.QueueDepth(pending)

	if s.opts.SyncInterval > 0 {
		s.startWorker(s.opts.SyncInterval)
	}
	if pending > 0 && s.monitor.IsOnline() {
		s.goDrain("startup")
	}
	slog.Info("offline_service_started",
		"state", s.monitor.State().String(),
		"pending", pending,
		"sync_interval", s.opts.SyncInterval.String(),
	)
	return nil
}

// Dispose stops background work and waits for in-flight drains.
// PRE: none; safe to call more than once
// POST: No goroutine started by this service is running
func (s *Service) Dispose() {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return
	}
	s.closed = true
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.stopCh)
	s.cancelBase()
	s.lifeMu.Unlock()

	s.bg.Wait()
	slog.Info("offline_service_stopped")
}

func (s *Service) onTransition(t connectivity.Transition) {
	s.metrics.ConnectivityChanged(t.To.IsOnline)
	switch {
	case t.CameOnline():
		slog.Info("connectivity_restored", "offline_for", t.To.LastTransitionAt.Sub(t.From.LastTransitionAt).String())
		s.goDrain("reconnect")
	case t.WentOffline():
		slog.Info("connectivity_lost")
	}
}

// goDrain starts a drain in a tracked goroutine unless the service is disposed.
func (s *Service) goDrain(reason string) {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return
	}
	s.bg.Add(1)
	s.lifeMu.Unlock()

	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, drainTimeout)
		defer cancel()
		res := s.SyncOfflineData(ctx)
		if res.Err != nil && !errors.Is(res.Err, domainOffline.ErrSyncInProgress) {
			slog.Warn("background_sync_incomplete", "reason", reason, "replayed", res.Replayed, "remaining", res.Remaining, "error", res.Err.Error())
			return
		}
		slog.Debug("background_sync_done", "reason", reason, "replayed", res.Replayed)
	}()
}

// startWorker drains periodically while online and the queue is non-empty.
func (s *Service) startWorker(interval time.Duration) {
	s.lifeMu.Lock()
	s.bg.Add(1)
	s.lifeMu.Unlock()

	go func() {
		defer s.bg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !s.monitor.IsOnline() {
					continue
				}
				ctx, cancel := context.WithTimeout(s.baseCtx, drainTimeout)
				if n, err := s.queue.Size(ctx); err == nil && n > 0 {
					s.SyncOfflineData(ctx)
				}
				cancel()
			case <-s.stopCh:
				slog.Info("sync_worker_stopped")
				return
			}
		}
	}()
}

// Resume is the visibility hook: a client returning to the foreground asks
// for a drain. It drains only when online and something is queued.
func (s *Service) Resume(ctx context.Context) domainOffline.SyncResult {
	if !s.monitor.IsOnline() {
		return s.offlineSyncResult(ctx)
	}
	n, err := s.queue.Size(ctx)
	if err != nil {
		return domainOffline.SyncResult{Err: err}
	}
	if n == 0 {
		return domainOffline.SyncResult{}
	}
	return s.SyncOfflineData(ctx)
}

// SetOnline forwards a runtime connectivity report to the monitor.
func (s *Service) SetOnline(online bool) bool {
	return s.monitor.Set(online)
}

// Cache returns the service's cache view.
func (s *Service) Cache() *Cache { return s.cache }

// Queue returns the service's mutation queue.
func (s *Service) Queue() *Queue { return s.queue }

// Monitor returns the service's connectivity monitor.
func (s *Service) Monitor() *Monitor { return s.monitor }

// ttlFor returns the configured TTL for key.
func (s *Service) ttlFor(key string) time.Duration {
	if ttl, ok := s.opts.TTLs[key]; ok {
		return ttl
	}
	return s.opts.DefaultTTL
}

// nullData stands in for a successful response that carried no data.
var nullData = json.RawMessage("null")
