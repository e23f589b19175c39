package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"mailbase/internal/database"
	"mailbase/internal/identity"
	"mailbase/internal/models"
	"mailbase/internal/threads"
	"mailbase/internal/watermark"
)

// ParsedMessage pairs a parsed message with its attachment metadata
type ParsedMessage struct {
	Message     *models.Message
	Attachments []AttachmentMeta
}

// BatchResult reports one committed batch. Inserted messages carry their
// database and thread ids.
type BatchResult struct {
	Inserted   []*models.Message
	Duplicates int
	Events     []threads.CompletionEvent
}

// Persister durably stores one batch of messages. The batch, its thread
// updates and the watermark advance commit as a single unit.
// AdvanceWatermark moves the folder watermark without persisting anything,
// for windows where no message survived parsing.
type Persister interface {
	PersistBatch(ctx context.Context, mailbox *models.Mailbox, folder string, batch []ParsedMessage) (*BatchResult, error)
	AdvanceWatermark(ctx context.Context, mailbox *models.Mailbox, folder string, uid int64) error
}

// SQLPersister is the Postgres persister. Attachment payloads land under
// attachmentDir; an empty dir disables payload storage and attachments are
// registered metadata-only.
type SQLPersister struct {
	db            *sqlx.DB
	identity      *identity.Resolver
	threads       *threads.Resolver
	watermark     *watermark.Tracker
	attachmentDir string
	logger        zerolog.Logger
}

// NewSQLPersister creates a persister bound to the given collaborators
func NewSQLPersister(db *sqlx.DB, ident *identity.Resolver, resolver *threads.Resolver, tracker *watermark.Tracker, attachmentDir string, logger zerolog.Logger) *SQLPersister {
	return &SQLPersister{db: db, identity: ident, threads: resolver, watermark: tracker, attachmentDir: attachmentDir, logger: logger}
}

// PersistBatch writes the batch in one transaction: insert each message
// (duplicates by (mailbox, folder, uid) are silent no-ops), register its
// attachments, resolve its thread, then advance the folder watermark to the
// batch's highest UID. Any failure rolls the whole batch back, watermark
// included, so a retried batch replays cleanly.
func (p *SQLPersister) PersistBatch(ctx context.Context, mailbox *models.Mailbox, folder string, batch []ParsedMessage) (*BatchResult, error) {
	if len(batch) == 0 {
		return &BatchResult{}, nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &BatchResult{}
	var maxUID int64

	for _, item := range batch {
		msg := item.Message
		msg.MailboxID = mailbox.ID
		msg.Folder = folder
		if msg.UID > maxUID {
			maxUID = msg.UID
		}

		// best-effort: an unknown sender is stored without person linkage
		personID, err := p.identity.ResolveAddress(ctx, msg.FromAddress)
		if err != nil {
			p.logger.Warn().Err(err).Str("address", msg.FromAddress).Msg("Sender resolution failed")
		} else {
			msg.SenderPersonID = personID
		}

		inserted, err := p.insertMessage(ctx, tx, msg)
		if err != nil {
			return nil, err
		}
		if !inserted {
			result.Duplicates++
			continue
		}

		if err := p.insertAttachments(ctx, tx, msg.ID, item.Attachments); err != nil {
			return nil, err
		}

		event, err := p.threads.Process(ctx, tx, msg)
		if err != nil {
			return nil, err
		}
		if event != nil {
			result.Events = append(result.Events, *event)
		}
		result.Inserted = append(result.Inserted, msg)
	}

	if err := p.watermark.Advance(ctx, tx, mailbox.ID, folder, maxUID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return result, nil
}

// AdvanceWatermark moves the folder watermark past uid in its own
// transaction. Used when an entire fetched window was skipped, so a poison
// message cannot stall the folder forever.
func (p *SQLPersister) AdvanceWatermark(ctx context.Context, mailbox *models.Mailbox, folder string, uid int64) error {
	return database.RunInTx(ctx, p.db, func(tx *sqlx.Tx) error {
		return p.watermark.Advance(ctx, tx, mailbox.ID, folder, uid)
	})
}

// insertMessage returns false when the (mailbox, folder, uid) row already
// exists.
func (p *SQLPersister) insertMessage(ctx context.Context, tx *sqlx.Tx, msg *models.Message) (bool, error) {
	err := tx.GetContext(ctx, &msg.ID, `
		INSERT INTO messages (mailbox_id, folder, uid, message_id, in_reply_to, references_list,
		                      sender_person_id, from_address, to_addresses, cc_addresses,
		                      subject, subject_normalized, body_text, body_html,
		                      has_attachments, received_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())
		ON CONFLICT (mailbox_id, folder, uid) DO NOTHING
		RETURNING id`,
		msg.MailboxID, msg.Folder, msg.UID, msg.MessageID, msg.InReplyTo, pq.Array([]string(msg.References)),
		msg.SenderPersonID, msg.FromAddress, pq.Array([]string(msg.ToAddresses)), pq.Array([]string(msg.CcAddresses)),
		msg.Subject, msg.SubjectNormalized, msg.BodyText, msg.BodyHTML,
		msg.HasAttachments, msg.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert message uid %d: %w", msg.UID, err)
	}
	return true, nil
}

func (p *SQLPersister) insertAttachments(ctx context.Context, tx *sqlx.Tx, messageID int64, attachments []AttachmentMeta) error {
	for i, att := range attachments {
		storagePath := p.storePayload(messageID, i, att)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (message_id, filename, content_type, size_bytes, storage_path, analysis_status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			messageID, att.Filename, att.ContentType, att.SizeBytes, storagePath, models.AnalysisStatusPending)
		if err != nil {
			return fmt.Errorf("failed to insert attachment %q: %w", att.Filename, err)
		}
	}
	return nil
}

// storePayload writes the attachment payload to disk and returns its path.
// Failures degrade to a metadata-only row with an empty path, which the
// extraction stage later marks failed; they never fail the batch.
func (p *SQLPersister) storePayload(messageID int64, idx int, att AttachmentMeta) string {
	if p.attachmentDir == "" || att.Content == nil {
		return ""
	}
	dir := filepath.Join(p.attachmentDir, fmt.Sprintf("%d", messageID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to create attachment dir")
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("%d_%s", idx, sanitizeFilename(att.Filename)))
	if err := os.WriteFile(path, att.Content, 0o644); err != nil {
		p.logger.Warn().Err(err).Str("path", path).Msg("Failed to store attachment payload")
		return ""
	}
	return path
}

// sanitizeFilename keeps the payload path flat and shell-safe
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "attachment"
	}
	return b.String()
}
