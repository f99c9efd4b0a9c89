package orchestrators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	emailAdapter "fitsync/internal/adapters/email"
	"fitsync/internal/application/offline"
	"fitsync/internal/domain/envelope"
)

// notifyTimeout bounds one notification send. It is detached from the drain
// so a cancelled drain still reports why it halted.
const notifyTimeout = 15 * time.Second

// mdRenderer is a goldmark instance configured for safe HTML output.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set).
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// FailureThrottle remembers the last mutation a notice was sent for, so a
// drain that keeps halting on the same mutation notifies once.
type FailureThrottle struct {
	mu     sync.Mutex
	lastID string
}

// Allow reports whether a notice for mutationID should be sent and records it.
// PRE: mutationID is non-empty
// POST: Returns false when the previous notice was for the same mutation
func (t *FailureThrottle) Allow(mutationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastID == mutationID {
		return false
	}
	t.lastID = mutationID
	return true
}

// NotifySyncFailureInput carries the halted drain to report.
type NotifySyncFailureInput struct {
	Failure offline.SyncFailure
}

// NotifySyncFailureDeps holds dependencies for NotifySyncFailure.
type NotifySyncFailureDeps struct {
	Sender   emailAdapter.Sender
	Throttle *FailureThrottle
	To       []string
	From     string
	Now      func() time.Time
}

// ExecuteNotifySyncFailure emails the configured recipients that pending
// changes could not be synced.
// PRE: input.Failure.Mutation.ID is non-empty
// POST: One email sent per distinct failing mutation; repeats are skipped
func ExecuteNotifySyncFailure(ctx context.Context, input NotifySyncFailureInput, deps NotifySyncFailureDeps) error {
	m := input.Failure.Mutation
	if m.ID == "" {
		return errors.New("failing mutation id is required")
	}
	if len(deps.To) == 0 {
		slog.Debug("sync_failure_notice_skipped", "reason", "no_recipients", "mutation_id", m.ID)
		return nil
	}
	if deps.Throttle != nil && !deps.Throttle.Allow(m.ID) {
		slog.Debug("sync_failure_notice_skipped", "reason", "already_notified", "mutation_id", m.ID)
		return nil
	}

	html, err := renderSyncFailure(input.Failure, deps.Now())
	if err != nil {
		return fmt.Errorf("render sync failure notice: %w", err)
	}

	subject := fmt.Sprintf("%d pending change(s) could not be synced", input.Failure.Remaining)
	res, err := deps.Sender.Send(ctx, emailAdapter.SendRequest{
		To:      deps.To,
		From:    deps.From,
		Subject: subject,
		HTML:    html,
		RefID:   m.ID,
		Tags:    map[string]string{"category": "sync_failure"},
	})
	if err != nil {
		return fmt.Errorf("send sync failure notice: %w", err)
	}
	slog.Info("sync_failure_notified", "mutation_id", m.ID, "message_id", res.MessageID, "remaining", input.Failure.Remaining)
	return nil
}

func renderSyncFailure(f offline.SyncFailure, now time.Time) (string, error) {
	m := f.Mutation
	var md strings.Builder
	md.WriteString("## Pending changes could not be synced\n\n")
	fmt.Fprintf(&md, "%s %d change(s) are still waiting and will be retried on the next sync.\n\n", failureCause(f.Err), f.Remaining)
	fmt.Fprintf(&md, "- **Request:** `%s %s`\n", m.Method, m.Path)
	fmt.Fprintf(&md, "- **Saved at:** %s\n", m.EnqueuedAt.UTC().Format(time.RFC1123))
	fmt.Fprintf(&md, "- **Attempts:** %d\n", m.Attempts)
	if f.Err != nil {
		fmt.Fprintf(&md, "- **Error:** %s\n", f.Err.Error())
	}
	fmt.Fprintf(&md, "\nReported %s. Discard the change from the queue if it can never succeed.\n", now.UTC().Format(time.RFC1123))

	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md.String()), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// failureCause words the halt by error class: a portal rejection or a
// failure to reach the portal at all.
func failureCause(err error) string {
	if errors.Is(err, envelope.ErrUnsuccessful) {
		return "The portal rejected a change that was saved while offline."
	}
	return "A change that was saved while offline could not reach the portal."
}

// NewSyncFailureHandler adapts ExecuteNotifySyncFailure to the offline
// service's failure hook. Send errors are logged, never returned to the drain.
func NewSyncFailureHandler(deps NotifySyncFailureDeps) offline.FailureHandler {
	if deps.Throttle == nil {
		deps.Throttle = &FailureThrottle{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return func(ctx context.Context, f offline.SyncFailure) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := ExecuteNotifySyncFailure(ctx, NotifySyncFailureInput{Failure: f}, deps); err != nil {
			slog.Error("sync_failure_notice_failed", "mutation_id", f.Mutation.ID, "error", err.Error())
		}
	}
}
