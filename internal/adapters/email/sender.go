package email

import (
	"context"
	"time"
)

// SendRequest contains the data needed to send an email via an external provider.
type SendRequest struct {
	To      []string // Recipient email addresses
	From    string   // Sender address, e.g. "Fitsync <noreply@example.com>"; empty uses the sender default
	Subject string
	HTML    string
	ReplyTo string
	RefID   string            // stable id of the thing the notice is about; keeps notices unthreaded
	Tags    map[string]string // provider tags for filtering delivery logs
}

// SendResult contains the response from the email provider.
type SendResult struct {
	MessageID string    // Provider's message ID for tracking
	SentAt    time.Time // When the send was accepted
}

// Sender delivers sync-failure notices to the member or front desk.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}
