package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mailbase/internal/config"
	"mailbase/internal/database"
	"mailbase/internal/extract"
	"mailbase/internal/identity"
	"mailbase/internal/index"
	"mailbase/internal/ingest"
	"mailbase/internal/llm"
	"mailbase/internal/notify"
	"mailbase/internal/retrieval"
	"mailbase/internal/server"
	"mailbase/internal/summarize"
	"mailbase/internal/syncer"
	"mailbase/internal/threads"
	"mailbase/internal/watermark"
)

// @title mailbase API
// @version 1.0
// @description Email knowledge base: mailbox sync, threading and hybrid retrieval
// @BasePath /
func main() {
	cfg := config.Load()
	logger := cfg.SetupLogger()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.EmbeddingDimensions); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	addresses := make([]string, 0)
	for address := range config.MailboxCredentials() {
		addresses = append(addresses, address)
	}
	if err := database.EnsureMailboxes(db, addresses); err != nil {
		log.Fatalf("Failed to register mailboxes: %v", err)
	}

	llmClient, err := llm.NewClient(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to configure LLM client: %v", err)
	}
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := llmClient.TestConnection(probeCtx); err != nil {
		logger.Warn().Err(err).Str("provider", llmClient.ProviderName()).Msg("LLM connectivity check failed")
	} else {
		logger.Info().Str("provider", llmClient.ProviderName()).Msg("LLM provider ready")
	}
	probeCancel()

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
	threadResolver := threads.New(markers, cfg.SubjectLookbackDays, logger)
	persister := ingest.NewSQLPersister(db, identity.New(db), threadResolver, tracker, cfg.AttachmentDir, logger)
	fetcher := ingest.NewDirFetcher(cfg.MailDropDir)
	ingestor := ingest.New(fetcher, persister, indexer, cfg.SyncBatchSize, logger)
	trigger := summarize.New(db, llmClient, notifier, cfg.SummaryMaxAttempts, cfg.SummaryHistoryLimit,
		time.Duration(cfg.ReopenGraceMinutes)*time.Minute, logger)
	engine := retrieval.New(db, llmClient, cfg.RetrievalTopK, cfg.FreshnessWeight, cfg.DecayDays, logger)
	processor := extract.NewProcessor(db, extract.NewTextExtractor(), indexer, logger)

	sched := syncer.New(db, ingestor, tracker, trigger, notifier,
		time.Duration(cfg.SyncIntervalMinutes)*time.Minute,
		time.Duration(cfg.SyncCycleTimeoutMins)*time.Minute,
		logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	go runExtractLoop(ctx, processor, time.Duration(cfg.SyncIntervalMinutes)*time.Minute, logger)

	srv := server.New(cfg, db, engine, indexer, sched, llmClient, logger)
	srv.Initialize()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info().Msg("Shutting down")
		cancel()
		_ = srv.Shutdown()
	}()

	if err := srv.Start(); err != nil {
		logger.Info().Err(err).Msg("Server stopped")
	}
}

// runExtractLoop periodically works through pending attachment extractions
func runExtractLoop(ctx context.Context, processor *extract.Processor, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := processor.ProcessPending(ctx, 50); err != nil {
			logger.Warn().Err(err).Msg("Attachment extraction pass failed")
		} else if n > 0 {
			logger.Info().Int("completed", n).Msg("Extracted attachment text")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
