// Package threads groups messages into conversations. Reference-chain
// matches are authoritative; normalized-subject continuity is the fallback
// for mail clients that drop threading headers.
package threads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"mailbase/internal/models"
)

// Subjects this short ("hi", "question") match far too many threads to be
// usable as continuity evidence.
const minSubjectMatchLength = 10

// CompletionEvent is emitted when a message carries a completion marker and
// its thread moved to pending_resolution.
type CompletionEvent struct {
	ThreadID  int64
	MessageID int64
	Marker    string
}

// Resolver assigns messages to threads inside the ingest transaction
type Resolver struct {
	markers      *MarkerSet
	lookbackDays int
	logger       zerolog.Logger
}

// New creates a thread resolver. lookbackDays bounds how far back subject
// matching may reach.
func New(markers *MarkerSet, lookbackDays int, logger zerolog.Logger) *Resolver {
	return &Resolver{markers: markers, lookbackDays: lookbackDays, logger: logger}
}

// Process finds or creates the thread for msg, attaches the message, and
// detects completion. msg.ID must already be set; msg.ThreadID is filled in.
// Runs inside the caller's transaction so a failed batch leaves no partial
// thread state behind.
func (r *Resolver) Process(ctx context.Context, tx *sqlx.Tx, msg *models.Message) (*CompletionEvent, error) {
	threadID, err := r.findThread(ctx, tx, msg)
	if err != nil {
		return nil, err
	}
	if threadID == 0 {
		threadID, err = r.createThread(ctx, tx, msg)
		if err != nil {
			return nil, err
		}
	}

	marker, hasMarker := r.markers.Detect(msg)
	if err := r.attach(ctx, tx, threadID, msg, marker, hasMarker); err != nil {
		return nil, err
	}
	msg.ThreadID = &threadID

	if !hasMarker {
		return nil, nil
	}
	r.logger.Info().
		Int64("thread_id", threadID).
		Int64("message_id", msg.ID).
		Str("marker", marker).
		Msg("Completion marker detected")
	return &CompletionEvent{ThreadID: threadID, MessageID: msg.ID, Marker: marker}, nil
}

// findThread returns the id of the thread msg belongs to, or 0 when no
// existing thread matches.
func (r *Resolver) findThread(ctx context.Context, tx *sqlx.Tx, msg *models.Message) (int64, error) {
	chain := msg.ReferenceChain()
	if len(chain) > 0 {
		var threadID int64
		err := tx.GetContext(ctx, &threadID, `
			SELECT thread_id FROM messages
			WHERE message_id = ANY($1) AND thread_id IS NOT NULL
			ORDER BY received_at DESC
			LIMIT 1`, pq.Array(chain))
		if err == nil {
			return threadID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("failed to match reference chain: %w", err)
		}
	}

	if len(msg.SubjectNormalized) <= minSubjectMatchLength {
		return 0, nil
	}

	cutoff := msg.ReceivedAt.AddDate(0, 0, -r.lookbackDays)
	var threadID int64
	err := tx.GetContext(ctx, &threadID, `
		SELECT id FROM threads
		WHERE subject_normalized = $1 AND last_message_at >= $2
		ORDER BY last_message_at DESC
		LIMIT 1`, msg.SubjectNormalized, cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to match subject: %w", err)
	}
	return threadID, nil
}

func (r *Resolver) createThread(ctx context.Context, tx *sqlx.Tx, msg *models.Message) (int64, error) {
	var threadID int64
	err := tx.GetContext(ctx, &threadID, `
		INSERT INTO threads (thread_key, subject_normalized, started_at, last_message_at, message_count, participants, status)
		VALUES ($1, $2, $3, $3, 0, '{}', $4)
		RETURNING id`,
		msg.MessageID, msg.SubjectNormalized, msg.ReceivedAt, models.ThreadStatusOpen)
	if err != nil {
		return 0, fmt.Errorf("failed to create thread: %w", err)
	}
	return threadID, nil
}

// attach folds the message into its thread's aggregates and drives the
// status machine: a marker moves any status, resolved included, to
// pending_resolution (a re-marked resolved thread queues for
// summarization again); activity without a marker reopens archived,
// resolved and pending threads. Summary fields are never cleared here.
func (r *Resolver) attach(ctx context.Context, tx *sqlx.Tx, threadID int64, msg *models.Message, marker string, hasMarker bool) error {
	var markerArg *string
	if hasMarker {
		markerArg = &marker
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE threads SET
			message_count = message_count + 1,
			last_message_at = GREATEST(last_message_at, $2),
			participants = CASE
				WHEN $3 = ANY(participants) THEN participants
				ELSE array_append(participants, $3)
			END,
			status = CASE
				WHEN $4::text IS NOT NULL THEN 'pending_resolution'
				WHEN status IN ('archived', 'resolved', 'pending_resolution') THEN 'open'
				ELSE status
			END,
			resolution_marker = COALESCE($4, resolution_marker),
			resolution_detected_at = CASE
				WHEN $4::text IS NOT NULL THEN $2
				ELSE resolution_detected_at
			END
		WHERE id = $1`,
		threadID, msg.ReceivedAt, msg.FromAddress, markerArg)
	if err != nil {
		return fmt.Errorf("failed to attach message to thread %d: %w", threadID, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("thread %d not found", threadID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET thread_id = $1 WHERE id = $2`, threadID, msg.ID); err != nil {
		return fmt.Errorf("failed to link message %d to thread %d: %w", msg.ID, threadID, err)
	}
	return nil
}
