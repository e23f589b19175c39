// Package ingest moves messages from a mailbox source into the store:
// fetch above the watermark, parse, persist in transactional batches, then
// index the new content.
package ingest

import (
	"context"

	"github.com/rs/zerolog"

	"mailbase/internal/index"
	"mailbase/internal/models"
	"mailbase/internal/threads"
)

// MessageIndexer indexes one persisted message. Indexing runs after the
// batch commits and never fails the sync.
type MessageIndexer interface {
	IndexMessage(ctx context.Context, msg *models.Message) (index.Result, error)
}

// Stats summarizes one folder sync
type Stats struct {
	Fetched     int
	Inserted    int
	Duplicates  int
	ParseErrors int
	IndexErrors int
	Events      []threads.CompletionEvent
}

// Ingestor runs the fetch → parse → persist → index pipeline
type Ingestor struct {
	fetcher   Fetcher
	persister Persister
	indexer   MessageIndexer
	batchSize int
	logger    zerolog.Logger
}

// New creates an ingestor
func New(fetcher Fetcher, persister Persister, indexer MessageIndexer, batchSize int, logger zerolog.Logger) *Ingestor {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Ingestor{
		fetcher:   fetcher,
		persister: persister,
		indexer:   indexer,
		batchSize: batchSize,
		logger:    logger,
	}
}

// SyncFolder ingests everything above sinceUID in one folder. Messages
// persist in batches; each batch commits with the watermark, so
// cancellation or failure between batches loses nothing and refetches only
// uncommitted UIDs. Returns partial stats alongside the error when a batch
// fails mid-run.
func (ing *Ingestor) SyncFolder(ctx context.Context, mailbox *models.Mailbox, folder string, sinceUID int64) (*Stats, error) {
	stats := &Stats{}

	raw, err := ing.fetcher.FetchSince(ctx, mailbox, folder, sinceUID)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(raw)
	if len(raw) == 0 {
		return stats, nil
	}

	for start := 0; start < len(raw); start += ing.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := start + ing.batchSize
		if end > len(raw) {
			end = len(raw)
		}

		batch := make([]ParsedMessage, 0, end-start)
		for _, rm := range raw[start:end] {
			msg, attachments, err := ParseMessage(rm.UID, rm.Raw)
			if err != nil {
				// a malformed message is skipped, not fatal
				ing.logger.Warn().Err(err).
					Str("mailbox", mailbox.Address).
					Str("folder", folder).
					Int64("uid", rm.UID).
					Msg("Failed to parse message")
				stats.ParseErrors++
				continue
			}
			batch = append(batch, ParsedMessage{Message: msg, Attachments: attachments})
		}
		if len(batch) == 0 {
			// nothing in this window parsed; move the watermark past it
			// anyway so a poison message cannot stall the folder forever
			if err := ing.persister.AdvanceWatermark(ctx, mailbox, folder, raw[end-1].UID); err != nil {
				return stats, err
			}
			continue
		}

		result, err := ing.persister.PersistBatch(ctx, mailbox, folder, batch)
		if err != nil {
			return stats, err
		}
		stats.Inserted += len(result.Inserted)
		stats.Duplicates += result.Duplicates
		stats.Events = append(stats.Events, result.Events...)

		// index after commit; a failed embedding never rolls back mail
		for _, msg := range result.Inserted {
			if res, err := ing.indexer.IndexMessage(ctx, msg); err != nil {
				ing.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("Failed to index message")
				stats.IndexErrors++
			} else if len(res.Failed) > 0 {
				stats.IndexErrors += len(res.Failed)
			}
		}
	}

	ing.logger.Info().
		Str("mailbox", mailbox.Address).
		Str("folder", folder).
		Int("fetched", stats.Fetched).
		Int("inserted", stats.Inserted).
		Int("duplicates", stats.Duplicates).
		Msg("Folder sync complete")
	return stats, nil
}
