// Package index maintains the embedding store: chunking, embedding and
// upserting content keyed by (source_table, source_id, chunk_index).
package index

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"mailbase/internal/models"
)

// Embedder produces embedding vectors for text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result reports the per-chunk outcome of one indexing call. A failed chunk
// never blocks its siblings.
type Result struct {
	Succeeded []int
	Failed    []int
}

// Indexer embeds and upserts content chunks
type Indexer struct {
	db       *sqlx.DB
	embedder Embedder
	chunker  *Chunker
	logger   zerolog.Logger
}

// New creates an indexer
func New(db *sqlx.DB, embedder Embedder, chunker *Chunker, logger zerolog.Logger) *Indexer {
	return &Indexer{db: db, embedder: embedder, chunker: chunker, logger: logger}
}

// IndexMessage chunks the cleaned message body (preferring plain text,
// falling back to stripped HTML) and upserts the chunks under the messages
// source table.
func (ix *Indexer) IndexMessage(ctx context.Context, msg *models.Message) (Result, error) {
	body := CleanBody(msg.BodyText)
	if body == "" && msg.BodyHTML != "" {
		body = CleanBody(HTMLToText(msg.BodyHTML))
	}
	chunks := ix.chunker.SplitEmail(msg.Subject, body)
	return ix.Upsert(ctx, "messages", msg.ID, "email", chunks)
}

// IndexAttachment indexes the extracted text of an attachment
func (ix *Indexer) IndexAttachment(ctx context.Context, att *models.Attachment, extractedText string) (Result, error) {
	anchor := fmt.Sprintf("Attachment: %s\n\n", att.Filename)
	chunks := ix.chunker.Split(anchor + extractedText)
	return ix.Upsert(ctx, "attachments", att.ID, "attachment", chunks)
}

// Upsert embeds each chunk and writes it keyed (source_table, source_id,
// chunk_index); re-indexing the same item overwrites its chunks in place and
// removes stale chunk indices past the new count, so a shrinking item never
// leaves orphaned chunks behind.
func (ix *Indexer) Upsert(ctx context.Context, sourceTable string, sourceID int64, sourceType string, chunks []string) (Result, error) {
	var result Result

	for i, chunk := range chunks {
		embedding, err := ix.embedder.Embed(ctx, chunk)
		if err != nil {
			ix.logger.Warn().Err(err).
				Str("source_table", sourceTable).
				Int64("source_id", sourceID).
				Int("chunk_index", i).
				Msg("Failed to embed chunk")
			result.Failed = append(result.Failed, i)
			continue
		}

		_, err = ix.db.ExecContext(ctx, `
			INSERT INTO embeddings (source_type, source_table, source_id, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (source_table, source_id, chunk_index)
			DO UPDATE SET source_type = EXCLUDED.source_type,
			              content = EXCLUDED.content,
			              embedding = EXCLUDED.embedding`,
			sourceType, sourceTable, sourceID, i, chunk, pgvector.NewVector(embedding))
		if err != nil {
			ix.logger.Warn().Err(err).
				Str("source_table", sourceTable).
				Int64("source_id", sourceID).
				Int("chunk_index", i).
				Msg("Failed to upsert chunk")
			result.Failed = append(result.Failed, i)
			continue
		}
		result.Succeeded = append(result.Succeeded, i)
	}

	if _, err := ix.db.ExecContext(ctx, `
		DELETE FROM embeddings
		WHERE source_table = $1 AND source_id = $2 AND chunk_index >= $3`,
		sourceTable, sourceID, len(chunks)); err != nil {
		return result, fmt.Errorf("failed to remove stale chunks for %s/%d: %w", sourceTable, sourceID, err)
	}

	return result, nil
}

// Stats returns embedding counts overall and per source type
func (ix *Indexer) Stats(ctx context.Context) (*models.IndexStats, error) {
	stats := &models.IndexStats{ByType: make(map[string]int64)}

	rows, err := ix.db.QueryxContext(ctx, `
		SELECT source_type, COUNT(*) FROM embeddings GROUP BY source_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to read index stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceType string
		var count int64
		if err := rows.Scan(&sourceType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan index stats: %w", err)
		}
		stats.ByType[sourceType] = count
		stats.Total += count
	}
	return stats, rows.Err()
}
