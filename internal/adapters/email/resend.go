package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/resend/resend-go/v2"
)

// resendEmails is the part of the Resend client the sender uses.
type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender delivers notices through the Resend API.
type ResendSender struct {
	emails resendEmails
	from   string
	now    func() time.Time
}

// NewResendSender creates a sender for apiKey. from is used when a request
// leaves From empty.
// PRE: apiKey is a valid Resend API key; from is a valid sender address
// POST: Returns a ready-to-use sender
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{
		emails: resend.NewClient(apiKey).Emails,
		from:   from,
		now:    time.Now,
	}
}

// Send hands one notice to Resend. Tags become Resend tags and RefID becomes
// the X-Entity-Ref-ID header, which stops mail clients from threading
// notices about different mutations together.
// PRE: req has at least one recipient and a subject
// POST: The notice is accepted by Resend; returns its message ID
func (s *ResendSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if len(req.To) == 0 {
		return SendResult{}, errors.New("resend send: no recipients")
	}
	params := &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Html:    req.HTML,
		ReplyTo: req.ReplyTo,
	}
	if params.From == "" {
		params.From = s.from
	}
	if req.RefID != "" {
		params.Headers = map[string]string{"X-Entity-Ref-ID": req.RefID}
	}
	for name, value := range req.Tags {
		params.Tags = append(params.Tags, resend.Tag{Name: name, Value: value})
	}

	sent, err := s.emails.SendWithContext(ctx, params)
	if err != nil {
		slog.Error("resend_send_failed", "ref_id", req.RefID, "subject", req.Subject, "error", err.Error())
		return SendResult{}, fmt.Errorf("resend send: %w", err)
	}
	slog.Info("resend_sent", "message_id", sent.Id, "ref_id", req.RefID)
	return SendResult{MessageID: sent.Id, SentAt: s.now()}, nil
}
