package outbox

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Domain errors.
var (
	ErrEmptyID       = errors.New("mutation id is required")
	ErrEmptyPath     = errors.New("mutation path is required")
	ErrInvalidMethod = errors.New("mutation method must be POST, PUT, PATCH or DELETE")
	ErrInvalidBody   = errors.New("mutation body must be valid JSON")
	ErrNotFound      = errors.New("pending mutation not found")
)

// PendingMutation is a write the member attempted while offline.
// Mutations are replayed in Seq order; a mutation is removed only after the
// portal confirms the replay succeeded.
type PendingMutation struct {
	ID              string
	Seq             int64 // assigned by the store on append; defines FIFO order
	Path            string
	Method          string
	Headers         map[string]string
	Body            json.RawMessage
	EnqueuedAt      time.Time
	Attempts        int
	LastAttemptedAt time.Time
	ErrorMessage    string // last replay error, empty until a replay fails
}

// Validate checks that the PendingMutation has valid data.
// PRE: PendingMutation struct is populated
// POST: Returns nil if valid, error otherwise; Method is upper-cased
func (m *PendingMutation) Validate() error {
	if m.ID == "" {
		return ErrEmptyID
	}
	if m.Path == "" {
		return ErrEmptyPath
	}
	m.Method = strings.ToUpper(m.Method)
	if !IsMutatingMethod(m.Method) {
		return ErrInvalidMethod
	}
	if len(m.Body) > 0 && !json.Valid(m.Body) {
		return ErrInvalidBody
	}
	if m.EnqueuedAt.IsZero() {
		return errors.New("enqueued_at must be set")
	}
	return nil
}

// MarkAttempt records a replay attempt.
// PRE: mutation is at the front of the queue
// POST: Attempts incremented, LastAttemptedAt set to now
func (m *PendingMutation) MarkAttempt(now time.Time) {
	m.Attempts++
	m.LastAttemptedAt = now
}

// MarkFailed records why the last replay failed. The mutation stays queued.
// PRE: MarkAttempt was called for this replay
// POST: ErrorMessage set
func (m *PendingMutation) MarkFailed(err error) {
	if err == nil {
		return
	}
	m.ErrorMessage = err.Error()
}

// HasFailed reports whether at least one replay of this mutation has failed.
func (m PendingMutation) HasFailed() bool {
	return m.ErrorMessage != ""
}

// IsMutatingMethod reports whether method is a write the queue accepts.
func IsMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
