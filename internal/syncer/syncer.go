// Package syncer schedules mailbox synchronization: one cycle goroutine per
// mailbox on a fixed interval, folders sequential within a mailbox so UID
// order is preserved, mailboxes independent so one failing source never
// blocks the rest.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"mailbase/internal/ingest"
	"mailbase/internal/models"
	"mailbase/internal/notify"
	"mailbase/internal/threads"
	"mailbase/internal/watermark"
)

var syncFolders = []string{models.FolderInbox, models.FolderSent}

// FolderSyncer ingests one folder above its watermark
type FolderSyncer interface {
	SyncFolder(ctx context.Context, mailbox *models.Mailbox, folder string, sinceUID int64) (*ingest.Stats, error)
}

// CompletionHandler reacts to completion events after ingest
type CompletionHandler interface {
	HandleCompletion(ctx context.Context, ev threads.CompletionEvent) error
}

// CycleStats aggregates one full sweep over all active mailboxes
type CycleStats struct {
	Mailboxes int
	Ingested  int
	Errors    int
}

// Syncer owns the sync schedule and mailbox status bookkeeping
type Syncer struct {
	db        *sqlx.DB
	ingestor  FolderSyncer
	tracker   *watermark.Tracker
	trigger   CompletionHandler
	notifier  notify.Notifier
	interval  time.Duration
	cycleTime time.Duration
	logger    zerolog.Logger

	// serializes cycles per mailbox; a slow cycle must never overlap the
	// next tick's cycle for the same mailbox
	mu      sync.Mutex
	running map[int64]bool
}

// New creates a syncer
func New(db *sqlx.DB, ingestor FolderSyncer, tracker *watermark.Tracker, trigger CompletionHandler, notifier notify.Notifier, interval, cycleTimeout time.Duration, logger zerolog.Logger) *Syncer {
	return &Syncer{
		db:        db,
		ingestor:  ingestor,
		tracker:   tracker,
		trigger:   trigger,
		notifier:  notifier,
		interval:  interval,
		cycleTime: cycleTimeout,
		logger:    logger,
		running:   make(map[int64]bool),
	}
}

// Run polls on the configured interval until ctx is cancelled. The first
// sweep starts immediately.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Sync scheduler started")
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sync scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep syncs every active mailbox concurrently and waits for all cycles to
// finish.
func (s *Syncer) Sweep(ctx context.Context) CycleStats {
	var mailboxes []models.Mailbox
	err := s.db.SelectContext(ctx, &mailboxes, `
		SELECT id, address, imap_host, imap_port, last_uid_inbox, last_uid_sent, sync_status, is_active
		FROM mailboxes WHERE is_active ORDER BY id`)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list mailboxes")
		return CycleStats{Errors: 1}
	}

	stats := CycleStats{Mailboxes: len(mailboxes)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range mailboxes {
		mailbox := mailboxes[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			ingested, err := s.SyncMailbox(ctx, &mailbox)
			mu.Lock()
			defer mu.Unlock()
			stats.Ingested += ingested
			if err != nil {
				stats.Errors++
			}
		}()
	}
	wg.Wait()
	return stats
}

// SyncMailbox runs one cycle for one mailbox: status idle → syncing, both
// folders in order, each resuming from its own watermark, then back to idle
// or to error with last_error recorded. Completion events from persisted
// batches are handed to the summarizer after ingest.
func (s *Syncer) SyncMailbox(ctx context.Context, mailbox *models.Mailbox) (int, error) {
	if !s.tryAcquire(mailbox.ID) {
		s.logger.Debug().Str("mailbox", mailbox.Address).Msg("Cycle still running, skipping tick")
		return 0, nil
	}
	defer s.release(mailbox.ID)

	cycleCtx := ctx
	if s.cycleTime > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cycleTime)
		defer cancel()
	}

	s.setStatus(ctx, mailbox.ID, models.SyncStatusSyncing, nil)

	ingested := 0
	var events []threads.CompletionEvent
	for _, folder := range syncFolders {
		sinceUID, err := s.tracker.Read(cycleCtx, mailbox.ID, folder)
		if err != nil {
			return ingested, s.fail(ctx, mailbox, folder, err)
		}

		stats, err := s.ingestor.SyncFolder(cycleCtx, mailbox, folder, sinceUID)
		if stats != nil {
			ingested += stats.Inserted
			events = append(events, stats.Events...)
		}
		if err != nil {
			return ingested, s.fail(ctx, mailbox, folder, err)
		}
	}

	s.setStatus(ctx, mailbox.ID, models.SyncStatusIdle, nil)

	for _, ev := range events {
		if err := s.trigger.HandleCompletion(cycleCtx, ev); err != nil {
			s.logger.Warn().Err(err).Int64("thread_id", ev.ThreadID).Msg("Summarization deferred")
		}
	}
	return ingested, nil
}

func (s *Syncer) fail(ctx context.Context, mailbox *models.Mailbox, folder string, err error) error {
	msg := err.Error()
	s.setStatus(ctx, mailbox.ID, models.SyncStatusError, &msg)
	s.notifier.SyncError(ctx, notify.SyncErrorEvent{
		Mailbox: mailbox.Address,
		Folder:  folder,
		Err:     msg,
	})
	return fmt.Errorf("sync failed for %s/%s: %w", mailbox.Address, folder, err)
}

// setStatus uses the outer context so a timed-out cycle can still record its
// error state.
func (s *Syncer) setStatus(ctx context.Context, mailboxID int64, status string, lastErr *string) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mailboxes SET sync_status = $2, last_error = $3, last_sync_at = now() WHERE id = $1`,
		mailboxID, status, lastErr)
	if err != nil {
		s.logger.Error().Err(err).Int64("mailbox_id", mailboxID).Msg("Failed to update mailbox status")
	}
}

func (s *Syncer) tryAcquire(mailboxID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[mailboxID] {
		return false
	}
	s.running[mailboxID] = true
	return true
}

func (s *Syncer) release(mailboxID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, mailboxID)
}
