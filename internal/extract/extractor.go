// Package extract drives attachment text extraction. The extraction itself
// is an external collaborator behind the Extractor interface; this package
// owns the pending → processing → completed/failed bookkeeping and hands the
// extracted text to the embedding index.
package extract

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"mailbase/internal/index"
	"mailbase/internal/models"
)

// Extractor turns an attachment into plain text
type Extractor interface {
	Extract(ctx context.Context, att models.Attachment) (string, error)
}

// Processor works through pending attachments
type Processor struct {
	db        *sqlx.DB
	extractor Extractor
	indexer   *index.Indexer
	logger    zerolog.Logger
}

// NewProcessor creates an attachment processor
func NewProcessor(db *sqlx.DB, extractor Extractor, indexer *index.Indexer, logger zerolog.Logger) *Processor {
	return &Processor{db: db, extractor: extractor, indexer: indexer, logger: logger}
}

// ProcessPending claims up to limit pending attachments and extracts and
// indexes each one. A failed attachment is marked failed with its error and
// never blocks the others. Returns the number completed.
func (p *Processor) ProcessPending(ctx context.Context, limit int) (int, error) {
	var pending []models.Attachment
	err := p.db.SelectContext(ctx, &pending, `
		UPDATE attachments SET analysis_status = $1
		WHERE id IN (
			SELECT id FROM attachments
			WHERE analysis_status = $2
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, message_id, filename, content_type, size_bytes, storage_path, analysis_status`,
		models.AnalysisStatusProcessing, models.AnalysisStatusPending, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending attachments: %w", err)
	}

	completed := 0
	for _, att := range pending {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		if err := p.processOne(ctx, att); err != nil {
			p.logger.Warn().Err(err).
				Int64("attachment_id", att.ID).
				Str("filename", att.Filename).
				Msg("Attachment extraction failed")
			continue
		}
		completed++
	}
	return completed, nil
}

func (p *Processor) processOne(ctx context.Context, att models.Attachment) error {
	text, err := p.extractor.Extract(ctx, att)
	if err != nil {
		msg := err.Error()
		if _, updateErr := p.db.ExecContext(ctx, `
			UPDATE attachments SET analysis_status = $2, analysis_error = $3 WHERE id = $1`,
			att.ID, models.AnalysisStatusFailed, msg); updateErr != nil {
			return fmt.Errorf("extraction failed (%s) and status update failed: %w", msg, updateErr)
		}
		return err
	}

	if _, err := p.db.ExecContext(ctx, `
		UPDATE attachments SET analysis_status = $2, extracted_text = $3, analysis_error = NULL WHERE id = $1`,
		att.ID, models.AnalysisStatusCompleted, text); err != nil {
		return fmt.Errorf("failed to store extracted text for attachment %d: %w", att.ID, err)
	}

	if result, err := p.indexer.IndexAttachment(ctx, &att, text); err != nil {
		p.logger.Warn().Err(err).Int64("attachment_id", att.ID).Msg("Failed to index extracted text")
	} else if len(result.Failed) > 0 {
		p.logger.Warn().
			Int64("attachment_id", att.ID).
			Ints("failed_chunks", result.Failed).
			Msg("Some extracted-text chunks failed to index")
	}
	return nil
}
