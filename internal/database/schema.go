package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrate creates the schema if it does not exist (PostgreSQL + pgvector).
// The embeddings uniqueness on (source_table, source_id, chunk_index) is a
// hard compatibility constraint: multiple writers rely on upsert against it.
func Migrate(db *sqlx.DB, embeddingDims int) error {
	if _, err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS persons (
			id BIGSERIAL PRIMARY KEY,
			display_name TEXT NOT NULL,
			chat_user_id BIGINT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS person_addresses (
			id BIGSERIAL PRIMARY KEY,
			person_id BIGINT NOT NULL REFERENCES persons(id),
			address TEXT NOT NULL UNIQUE,
			is_primary BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS mailboxes (
			id BIGSERIAL PRIMARY KEY,
			address TEXT NOT NULL UNIQUE,
			imap_host TEXT NOT NULL DEFAULT '',
			imap_port INT NOT NULL DEFAULT 993,
			last_uid_inbox BIGINT NOT NULL DEFAULT 0,
			last_uid_sent BIGINT NOT NULL DEFAULT 0,
			sync_status TEXT NOT NULL DEFAULT 'idle',
			last_error TEXT,
			last_sync_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		`CREATE TABLE IF NOT EXISTS threads (
			id BIGSERIAL PRIMARY KEY,
			thread_key TEXT NOT NULL,
			subject_normalized TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			last_message_at TIMESTAMPTZ NOT NULL,
			message_count INT NOT NULL DEFAULT 0,
			participants TEXT[] NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'open',
			resolution_marker TEXT,
			resolution_detected_at TIMESTAMPTZ,
			summary_short TEXT,
			summary_detailed TEXT,
			key_decisions TEXT[],
			action_items TEXT[],
			summary_generated_at TIMESTAMPTZ,
			summary_model TEXT,
			summary_attempts INT NOT NULL DEFAULT 0,
			priority TEXT,
			sentiment TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			mailbox_id BIGINT NOT NULL REFERENCES mailboxes(id),
			folder TEXT NOT NULL,
			uid BIGINT NOT NULL,
			message_id TEXT NOT NULL,
			in_reply_to TEXT,
			references_list TEXT[] NOT NULL DEFAULT '{}',
			thread_id BIGINT REFERENCES threads(id),
			sender_person_id BIGINT REFERENCES persons(id),
			from_address TEXT NOT NULL,
			to_addresses TEXT[] NOT NULL DEFAULT '{}',
			cc_addresses TEXT[] NOT NULL DEFAULT '{}',
			subject TEXT NOT NULL DEFAULT '',
			subject_normalized TEXT NOT NULL DEFAULT '',
			body_text TEXT NOT NULL DEFAULT '',
			body_html TEXT NOT NULL DEFAULT '',
			has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
			received_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (mailbox_id, folder, uid)
		)`,

		`CREATE TABLE IF NOT EXISTS attachments (
			id BIGSERIAL PRIMARY KEY,
			message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			size_bytes BIGINT NOT NULL DEFAULT 0,
			storage_path TEXT NOT NULL DEFAULT '',
			extracted_text TEXT,
			analysis_status TEXT NOT NULL DEFAULT 'pending',
			analysis_error TEXT
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			id BIGSERIAL PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_table TEXT NOT NULL,
			source_id BIGINT NOT NULL,
			chunk_index INT NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source_table, source_id, chunk_index)
		)`, embeddingDims),

		`CREATE TABLE IF NOT EXISTS thread_summary_log (
			id UUID PRIMARY KEY,
			thread_id BIGINT NOT NULL REFERENCES threads(id),
			trigger_message_id BIGINT,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_tokens INT NOT NULL DEFAULT 0,
			completion_tokens INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		// One primary address per person
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_person_addresses_primary
			ON person_addresses(person_id) WHERE is_primary`,
		`CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_fts ON messages
			USING gin (to_tsvector('english', coalesce(subject,'') || ' ' || coalesce(body_text,'')))`,
		`CREATE INDEX IF NOT EXISTS idx_threads_subject_normalized ON threads(subject_normalized)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_last_message_at ON threads(last_message_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(message_id)`,
		// HNSW index for fast cosine similarity search with pgvector
		`CREATE INDEX IF NOT EXISTS idx_embeddings_hnsw ON embeddings USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, index := range indexes {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// EnsureMailboxes registers the configured mailbox addresses, leaving
// existing rows (and their watermarks) untouched.
func EnsureMailboxes(db *sqlx.DB, addresses []string) error {
	for _, address := range addresses {
		_, err := db.Exec(`
			INSERT INTO mailboxes (address) VALUES ($1)
			ON CONFLICT (address) DO NOTHING`, address)
		if err != nil {
			return fmt.Errorf("failed to register mailbox %q: %w", address, err)
		}
	}
	return nil
}
