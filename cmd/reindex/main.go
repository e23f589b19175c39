package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"mailbase/internal/config"
	"mailbase/internal/database"
	"mailbase/internal/index"
	"mailbase/internal/llm"
	"mailbase/internal/models"
)

func main() {
	batchSize := flag.Int("batch", 200, "Rows loaded per database page")
	flag.Parse()

	fmt.Println("=== EMBEDDING REINDEX JOB ===")
	fmt.Printf("Starting at: %s\n", time.Now().Format(time.RFC3339))

	cfg := config.Load()
	logger := cfg.SetupLogger()

	fmt.Println("Connecting to database...")
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.EmbeddingDimensions); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	fmt.Println("Initializing embedding client...")
	llmClient, err := llm.NewClient(cfg, logger)
	if err != nil {
		log.Fatal("Failed to configure LLM client:", err)
	}

	chunker := index.NewChunker(cfg.ChunkMaxChars, cfg.ChunkOverlap)
	indexer := index.New(db, llmClient, chunker, logger)

	ctx := context.Background()
	start := time.Now()

	messages, failedMessages, err := reindexMessages(ctx, db, indexer, *batchSize)
	if err != nil {
		log.Fatal("Failed to reindex messages:", err)
	}
	fmt.Printf("Reindexed %d messages (%d with failed chunks)\n", messages, failedMessages)

	attachments, failedAttachments, err := reindexAttachments(ctx, db, indexer, *batchSize)
	if err != nil {
		log.Fatal("Failed to reindex attachments:", err)
	}
	fmt.Printf("Reindexed %d attachments (%d with failed chunks)\n", attachments, failedAttachments)

	fmt.Printf("Completed in %v at: %s\n", time.Since(start), time.Now().Format(time.RFC3339))

	if failedMessages > 0 || failedAttachments > 0 {
		os.Exit(1)
	}
}

// reindexMessages walks the messages table in id order and re-embeds every
// message body. Keyset pagination keeps memory flat regardless of table size.
func reindexMessages(ctx context.Context, db *sqlx.DB, indexer *index.Indexer, batchSize int) (total, failed int, err error) {
	var lastID int64
	for {
		var batch []models.Message
		err = db.SelectContext(ctx, &batch, `
			SELECT id, subject, body_text, body_html
			FROM messages
			WHERE id > $1
			ORDER BY id
			LIMIT $2`, lastID, batchSize)
		if err != nil {
			return total, failed, fmt.Errorf("failed to load message batch after id %d: %w", lastID, err)
		}
		if len(batch) == 0 {
			return total, failed, nil
		}

		for i := range batch {
			msg := &batch[i]
			result, indexErr := indexer.IndexMessage(ctx, msg)
			if indexErr != nil {
				return total, failed, fmt.Errorf("failed to index message %d: %w", msg.ID, indexErr)
			}
			total++
			if len(result.Failed) > 0 {
				failed++
			}
			lastID = msg.ID
		}
	}
}

// reindexAttachments re-embeds the extracted text of every attachment whose
// content extraction already completed.
func reindexAttachments(ctx context.Context, db *sqlx.DB, indexer *index.Indexer, batchSize int) (total, failed int, err error) {
	var lastID int64
	for {
		var batch []models.Attachment
		err = db.SelectContext(ctx, &batch, `
			SELECT id, message_id, filename, content_type, extracted_text
			FROM attachments
			WHERE id > $1 AND analysis_status = $2 AND extracted_text IS NOT NULL
			ORDER BY id
			LIMIT $3`, lastID, models.AnalysisStatusCompleted, batchSize)
		if err != nil {
			return total, failed, fmt.Errorf("failed to load attachment batch after id %d: %w", lastID, err)
		}
		if len(batch) == 0 {
			return total, failed, nil
		}

		for i := range batch {
			att := &batch[i]
			result, indexErr := indexer.IndexAttachment(ctx, att, *att.ExtractedText)
			if indexErr != nil {
				return total, failed, fmt.Errorf("failed to index attachment %d: %w", att.ID, indexErr)
			}
			total++
			if len(result.Failed) > 0 {
				failed++
			}
			lastID = att.ID
		}
	}
}
