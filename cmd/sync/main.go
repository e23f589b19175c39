package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailbase/internal/config"
	"mailbase/internal/database"
	"mailbase/internal/extract"
	"mailbase/internal/identity"
	"mailbase/internal/index"
	"mailbase/internal/ingest"
	"mailbase/internal/llm"
	"mailbase/internal/notify"
	"mailbase/internal/summarize"
	"mailbase/internal/syncer"
	"mailbase/internal/threads"
	"mailbase/internal/watermark"
)

func main() {
	once := flag.Bool("once", false, "Run a single sync sweep and exit")
	flag.Parse()

	fmt.Println("=== MAILBOX SYNC ===")
	fmt.Printf("Starting at: %s\n", time.Now().Format(time.RFC3339))

	cfg := config.Load()
	logger := cfg.SetupLogger()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.EmbeddingDimensions); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	addresses := make([]string, 0)
	for address := range config.MailboxCredentials() {
		addresses = append(addresses, address)
	}
	if err := database.EnsureMailboxes(db, addresses); err != nil {
		log.Fatal("Failed to register mailboxes:", err)
	}

	llmClient, err := llm.NewClient(cfg, logger)
	if err != nil {
		log.Fatal("Failed to configure LLM client:", err)
	}

	var notifier notify.Notifier
	if cfg.SendGridAPIKey != "" && cfg.AlertEmail != "" {
		notifier = notify.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.AlertEmail, cfg.AlertFromEmail, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	chunker := index.NewChunker(cfg.ChunkMaxChars, cfg.ChunkOverlap)
	indexer := index.New(db, llmClient, chunker, logger)
	tracker := watermark.New(db)
	markers := threads.NewMarkerSet(cfg.CompletionMarkers, cfg.InternalDomains)
	persister := ingest.NewSQLPersister(db, identity.New(db),
		threads.New(markers, cfg.SubjectLookbackDays, logger), tracker, cfg.AttachmentDir, logger)
	ingestor := ingest.New(ingest.NewDirFetcher(cfg.MailDropDir), persister, indexer, cfg.SyncBatchSize, logger)
	trigger := summarize.New(db, llmClient, notifier, cfg.SummaryMaxAttempts, cfg.SummaryHistoryLimit,
		time.Duration(cfg.ReopenGraceMinutes)*time.Minute, logger)
	processor := extract.NewProcessor(db, extract.NewTextExtractor(), indexer, logger)

	sched := syncer.New(db, ingestor, tracker, trigger, notifier,
		time.Duration(cfg.SyncIntervalMinutes)*time.Minute,
		time.Duration(cfg.SyncCycleTimeoutMins)*time.Minute,
		logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		stats := sched.Sweep(ctx)
		extracted, err := processor.ProcessPending(ctx, 200)
		if err != nil {
			logger.Warn().Err(err).Msg("Attachment extraction pass failed")
		}
		fmt.Printf("Synced %d mailboxes, ingested %d messages, extracted %d attachments, %d errors\n",
			stats.Mailboxes, stats.Ingested, extracted, stats.Errors)
		fmt.Printf("Completed at: %s\n", time.Now().Format(time.RFC3339))
		if stats.Errors > 0 {
			os.Exit(1)
		}
		return
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info().Msg("Shutting down")
		cancel()
	}()

	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SyncIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			if _, err := processor.ProcessPending(ctx, 50); err != nil {
				logger.Warn().Err(err).Msg("Attachment extraction pass failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	sched.Run(ctx)
}
