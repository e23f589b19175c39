package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridNotifier emails alerts to the operator address. Errors are logged
// and swallowed, honoring the fire-and-forget contract.
type SendGridNotifier struct {
	apiKey    string
	alertTo   string
	alertFrom string
	logger    zerolog.Logger
}

// NewSendGridNotifier creates an email-backed notifier
func NewSendGridNotifier(apiKey, alertTo, alertFrom string, logger zerolog.Logger) *SendGridNotifier {
	return &SendGridNotifier{
		apiKey:    apiKey,
		alertTo:   alertTo,
		alertFrom: alertFrom,
		logger:    logger,
	}
}

func (n *SendGridNotifier) ThreadResolved(_ context.Context, ev ResolvedEvent) {
	subject := fmt.Sprintf("Thread resolved: %s", ev.Subject)
	body := fmt.Sprintf(`Thread #%d was resolved.

Subject: %s
Marker: %q
Detected: %s

Summary:
%s`, ev.ThreadID, ev.Subject, ev.Marker, time.Now().Format(time.RFC3339), ev.SummaryShort)

	n.send(subject, body)
}

func (n *SendGridNotifier) SyncError(_ context.Context, ev SyncErrorEvent) {
	subject := fmt.Sprintf("Mailbox sync failed: %s", ev.Mailbox)
	body := fmt.Sprintf(`Sync cycle failed.

Mailbox: %s
Folder: %s
Time: %s

Error:
%s`, ev.Mailbox, ev.Folder, time.Now().Format(time.RFC3339), ev.Err)

	n.send(subject, body)
}

func (n *SendGridNotifier) NeedsReview(_ context.Context, ev ReviewEvent) {
	subject := fmt.Sprintf("Summarization needs review: thread #%d", ev.ThreadID)
	body := fmt.Sprintf(`Summarization for thread #%d failed %d times and will not be retried automatically.

Subject: %s
Last error:
%s`, ev.ThreadID, ev.Attempts, ev.Subject, ev.LastErr)

	n.send(subject, body)
}

func (n *SendGridNotifier) send(subject, body string) {
	if n.apiKey == "" || n.alertTo == "" {
		n.logger.Debug().Str("subject", subject).Msg("SendGrid not configured, dropping alert")
		return
	}

	from := mail.NewEmail("mailbase", n.alertFrom)
	to := mail.NewEmail("Operator", n.alertTo)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	client := sendgrid.NewSendClient(n.apiKey)
	response, err := client.Send(message)
	if err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to send alert email")
		return
	}
	if response.StatusCode >= 400 {
		n.logger.Error().
			Int("status", response.StatusCode).
			Str("subject", subject).
			Msg("SendGrid rejected alert email")
	}
}
