// Package notify delivers operational alerts. Delivery is fire-and-forget:
// a broken notifier is logged, never propagated into the pipeline that
// raised the event.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// ResolvedEvent announces a thread that reached resolved with a fresh summary
type ResolvedEvent struct {
	ThreadID     int64
	Subject      string
	Marker       string
	SummaryShort string
}

// SyncErrorEvent announces a failed mailbox sync cycle
type SyncErrorEvent struct {
	Mailbox string
	Folder  string
	Err     string
}

// ReviewEvent announces a thread whose summarization exhausted its retries
// and needs a human.
type ReviewEvent struct {
	ThreadID int64
	Subject  string
	Attempts int
	LastErr  string
}

// Notifier is a sink for operational events
type Notifier interface {
	ThreadResolved(ctx context.Context, ev ResolvedEvent)
	SyncError(ctx context.Context, ev SyncErrorEvent)
	NeedsReview(ctx context.Context, ev ReviewEvent)
}

// LogNotifier writes every event to the structured log
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ThreadResolved(_ context.Context, ev ResolvedEvent) {
	n.logger.Info().
		Int64("thread_id", ev.ThreadID).
		Str("subject", ev.Subject).
		Str("marker", ev.Marker).
		Msg("Thread resolved")
}

func (n *LogNotifier) SyncError(_ context.Context, ev SyncErrorEvent) {
	n.logger.Error().
		Str("mailbox", ev.Mailbox).
		Str("folder", ev.Folder).
		Str("error", ev.Err).
		Msg("Mailbox sync failed")
}

func (n *LogNotifier) NeedsReview(_ context.Context, ev ReviewEvent) {
	n.logger.Warn().
		Int64("thread_id", ev.ThreadID).
		Str("subject", ev.Subject).
		Int("attempts", ev.Attempts).
		Str("last_error", ev.LastErr).
		Msg("Thread summarization needs manual review")
}
