// Package summarize turns completion-marked threads into knowledge-base
// summaries. Generation is retried across detection cycles up to a bound;
// every attempt's prompt and response is kept in an append-only log.
package summarize

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"mailbase/internal/database"
	"mailbase/internal/models"
	"mailbase/internal/notify"
	"mailbase/internal/threads"
)

// Trigger reacts to completion events by generating and persisting summaries
type Trigger struct {
	db           *sqlx.DB
	generator    Generator
	notifier     notify.Notifier
	maxAttempts  int
	historyLimit int
	reopenGrace  time.Duration
	logger       zerolog.Logger
}

// New creates a summarization trigger. reopenGrace suppresses regeneration
// when a repeated marker lands within the grace window of an existing
// summary; zero disables the window.
func New(db *sqlx.DB, generator Generator, notifier notify.Notifier, maxAttempts, historyLimit int, reopenGrace time.Duration, logger zerolog.Logger) *Trigger {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Trigger{
		db:           db,
		generator:    generator,
		notifier:     notifier,
		maxAttempts:  maxAttempts,
		historyLimit: historyLimit,
		reopenGrace:  reopenGrace,
		logger:       logger,
	}
}

// HandleCompletion processes one completion event. The thread must still be
// pending_resolution when the event is handled; a thread that reopened in
// the meantime is skipped silently. Failures leave the thread
// pending_resolution with summary_attempts incremented, so the next
// detection cycle retries until the bound is hit.
func (tr *Trigger) HandleCompletion(ctx context.Context, ev threads.CompletionEvent) error {
	var thread models.Thread
	err := tr.db.GetContext(ctx, &thread, `
		SELECT id, thread_key, subject_normalized, status, summary_attempts, summary_generated_at
		FROM threads WHERE id = $1`, ev.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to load thread %d: %w", ev.ThreadID, err)
	}

	if thread.Status != models.ThreadStatusPendingResolution {
		tr.logger.Debug().
			Int64("thread_id", ev.ThreadID).
			Str("status", thread.Status).
			Msg("Skipping summarization, thread no longer pending")
		return nil
	}

	// A marker repeated shortly after a summary was generated re-resolves
	// the thread without regenerating.
	if tr.reopenGrace > 0 && thread.SummaryGeneratedAt != nil &&
		time.Since(*thread.SummaryGeneratedAt) < tr.reopenGrace {
		_, err := tr.db.ExecContext(ctx, `
			UPDATE threads SET status = $2 WHERE id = $1 AND status = $3`,
			thread.ID, models.ThreadStatusResolved, models.ThreadStatusPendingResolution)
		if err != nil {
			return fmt.Errorf("failed to re-resolve thread %d: %w", thread.ID, err)
		}
		tr.logger.Debug().Int64("thread_id", thread.ID).Msg("Recent summary reused")
		return nil
	}

	if thread.SummaryAttempts >= tr.maxAttempts {
		tr.notifier.NeedsReview(ctx, notify.ReviewEvent{
			ThreadID: thread.ID,
			Subject:  thread.SubjectNormalized,
			Attempts: thread.SummaryAttempts,
			LastErr:  "retry budget exhausted",
		})
		return nil
	}

	history, err := tr.loadHistory(ctx, ev.ThreadID)
	if err != nil {
		return err
	}

	summary, genErr := tr.generator.Summarize(ctx, history)
	if genErr != nil {
		return tr.recordFailure(ctx, &thread, genErr)
	}

	if err := tr.recordSuccess(ctx, &thread, ev, summary); err != nil {
		return err
	}

	tr.notifier.ThreadResolved(ctx, notify.ResolvedEvent{
		ThreadID:     thread.ID,
		Subject:      thread.SubjectNormalized,
		Marker:       ev.Marker,
		SummaryShort: summary.Short,
	})
	return nil
}

// loadHistory returns the thread's most recent messages in chronological
// order.
func (tr *Trigger) loadHistory(ctx context.Context, threadID int64) ([]models.Message, error) {
	var history []models.Message
	err := tr.db.SelectContext(ctx, &history, `
		SELECT id, from_address, subject, body_text, received_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY received_at DESC
		LIMIT $2`, threadID, tr.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for thread %d: %w", threadID, err)
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

func (tr *Trigger) recordFailure(ctx context.Context, thread *models.Thread, genErr error) error {
	_, err := tr.db.ExecContext(ctx, `
		UPDATE threads SET summary_attempts = summary_attempts + 1 WHERE id = $1`, thread.ID)
	if err != nil {
		return fmt.Errorf("failed to record summarization attempt for thread %d: %w", thread.ID, err)
	}

	attempts := thread.SummaryAttempts + 1
	tr.logger.Warn().Err(genErr).
		Int64("thread_id", thread.ID).
		Int("attempts", attempts).
		Msg("Summarization failed")

	if attempts >= tr.maxAttempts {
		tr.notifier.NeedsReview(ctx, notify.ReviewEvent{
			ThreadID: thread.ID,
			Subject:  thread.SubjectNormalized,
			Attempts: attempts,
			LastErr:  genErr.Error(),
		})
	}
	return fmt.Errorf("summarization failed for thread %d: %w", thread.ID, genErr)
}

// recordSuccess appends the generation log row and moves the thread to
// resolved in one transaction. Log rows are never updated or deleted.
func (tr *Trigger) recordSuccess(ctx context.Context, thread *models.Thread, ev threads.CompletionEvent, summary *Summary) error {
	return database.RunInTx(ctx, tr.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO thread_summary_log (id, thread_id, trigger_message_id, prompt, response, model, prompt_tokens, completion_tokens, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), thread.ID, ev.MessageID, summary.Prompt, summary.Response,
			summary.Model, summary.PromptTokens, summary.CompletionTokens, time.Now())
		if err != nil {
			return fmt.Errorf("failed to append summary log for thread %d: %w", thread.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE threads SET
				status = $2,
				summary_short = $3,
				summary_detailed = $4,
				key_decisions = $5,
				action_items = $6,
				summary_generated_at = $7,
				summary_model = $8
			WHERE id = $1 AND status = $9`,
			thread.ID, models.ThreadStatusResolved,
			summary.Short, summary.Detailed,
			toTextArray(summary.KeyDecisions), toTextArray(summary.ActionItems),
			time.Now(), summary.Model, models.ThreadStatusPendingResolution)
		if err != nil {
			return fmt.Errorf("failed to resolve thread %d: %w", thread.ID, err)
		}
		return nil
	})
}

func toTextArray(items []string) pq.StringArray {
	if items == nil {
		items = []string{}
	}
	return pq.StringArray(items)
}
