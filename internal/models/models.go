package models

import (
	"time"

	"github.com/lib/pq"
)

// Sync status values for a mailbox
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// Thread status values. Transitions are monotone except for reopening:
// archived -> open on any new activity, pending_resolution -> open when a
// new message arrives without a renewed completion marker.
const (
	ThreadStatusOpen              = "open"
	ThreadStatusPendingResolution = "pending_resolution"
	ThreadStatusResolved          = "resolved"
	ThreadStatusArchived          = "archived"
)

// Attachment analysis status values
const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
)

// Folder sub-streams synced per mailbox, each with its own watermark
const (
	FolderInbox = "INBOX"
	FolderSent  = "Sent"
)

// Person is a canonical identity. Persons are never hard-deleted, only
// deactivated.
type Person struct {
	ID          int64     `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	ChatUserID  *int64    `db:"chat_user_id" json:"chat_user_id,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PersonAddress links an email address to a person. At most one address per
// person is primary (enforced by a partial unique index).
type PersonAddress struct {
	ID        int64  `db:"id" json:"id"`
	PersonID  int64  `db:"person_id" json:"person_id"`
	Address   string `db:"address" json:"address"`
	IsPrimary bool   `db:"is_primary" json:"is_primary"`
}

// Mailbox is a monitored email source with one watermark per folder
// sub-stream. A watermark only advances after the corresponding batch of
// messages is durably persisted.
type Mailbox struct {
	ID           int64      `db:"id" json:"id"`
	Address      string     `db:"address" json:"address"`
	IMAPHost     string     `db:"imap_host" json:"imap_host"`
	IMAPPort     int        `db:"imap_port" json:"imap_port"`
	LastUIDInbox int64      `db:"last_uid_inbox" json:"last_uid_inbox"`
	LastUIDSent  int64      `db:"last_uid_sent" json:"last_uid_sent"`
	SyncStatus   string     `db:"sync_status" json:"sync_status"`
	LastError    *string    `db:"last_error" json:"last_error,omitempty"`
	LastSyncAt   *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
}

// Message is the canonical unit of content. (mailbox_id, folder, uid) is
// unique, so re-fetching the same native message never duplicates it.
type Message struct {
	ID                int64          `db:"id" json:"id"`
	MailboxID         int64          `db:"mailbox_id" json:"mailbox_id"`
	Folder            string         `db:"folder" json:"folder"`
	UID               int64          `db:"uid" json:"uid"`
	MessageID         string         `db:"message_id" json:"message_id"`
	InReplyTo         *string        `db:"in_reply_to" json:"in_reply_to,omitempty"`
	References        pq.StringArray `db:"references_list" json:"references,omitempty"`
	ThreadID          *int64         `db:"thread_id" json:"thread_id,omitempty"`
	SenderPersonID    *int64         `db:"sender_person_id" json:"sender_person_id,omitempty"`
	FromAddress       string         `db:"from_address" json:"from"`
	ToAddresses       pq.StringArray `db:"to_addresses" json:"to"`
	CcAddresses       pq.StringArray `db:"cc_addresses" json:"cc,omitempty"`
	Subject           string         `db:"subject" json:"subject"`
	SubjectNormalized string         `db:"subject_normalized" json:"subject_normalized"`
	BodyText          string         `db:"body_text" json:"body_text"`
	BodyHTML          string         `db:"body_html" json:"-"`
	HasAttachments    bool           `db:"has_attachments" json:"has_attachments"`
	ReceivedAt        time.Time      `db:"received_at" json:"received_at"`
	ProcessedAt       time.Time      `db:"processed_at" json:"processed_at"`
}

// ReferenceChain returns every message id the message claims as an ancestor:
// the References header plus In-Reply-To, deduplicated, order preserved.
func (m *Message) ReferenceChain() []string {
	seen := make(map[string]struct{}, len(m.References)+1)
	chain := make([]string, 0, len(m.References)+1)
	for _, ref := range m.References {
		if _, ok := seen[ref]; ok || ref == "" {
			continue
		}
		seen[ref] = struct{}{}
		chain = append(chain, ref)
	}
	if m.InReplyTo != nil && *m.InReplyTo != "" {
		if _, ok := seen[*m.InReplyTo]; !ok {
			chain = append(chain, *m.InReplyTo)
		}
	}
	return chain
}

// Thread is a mutable aggregate over messages sharing a reference chain or
// normalized-subject continuity. ThreadKey is the first message's message id.
type Thread struct {
	ID                 int64          `db:"id" json:"id"`
	ThreadKey          string         `db:"thread_key" json:"thread_key"`
	SubjectNormalized  string         `db:"subject_normalized" json:"subject_normalized"`
	StartedAt          time.Time      `db:"started_at" json:"started_at"`
	LastMessageAt      time.Time      `db:"last_message_at" json:"last_message_at"`
	MessageCount       int            `db:"message_count" json:"message_count"`
	Participants       pq.StringArray `db:"participants" json:"participants"`
	Status             string         `db:"status" json:"status"`
	ResolutionMarker   *string        `db:"resolution_marker" json:"resolution_marker,omitempty"`
	ResolutionAt       *time.Time     `db:"resolution_detected_at" json:"resolution_detected_at,omitempty"`
	SummaryShort       *string        `db:"summary_short" json:"summary_short,omitempty"`
	SummaryDetailed    *string        `db:"summary_detailed" json:"summary_detailed,omitempty"`
	KeyDecisions       pq.StringArray `db:"key_decisions" json:"key_decisions,omitempty"`
	ActionItems        pq.StringArray `db:"action_items" json:"action_items,omitempty"`
	SummaryGeneratedAt *time.Time     `db:"summary_generated_at" json:"summary_generated_at,omitempty"`
	SummaryModel       *string        `db:"summary_model" json:"summary_model,omitempty"`
	SummaryAttempts    int            `db:"summary_attempts" json:"summary_attempts"`
	Priority           *string        `db:"priority" json:"priority,omitempty"`
	Sentiment          *string        `db:"sentiment" json:"sentiment,omitempty"`
}

// Attachment is owned by exactly one message. Extracted text is produced by
// the external content-extraction collaborator.
type Attachment struct {
	ID            int64   `db:"id" json:"id"`
	MessageID     int64   `db:"message_id" json:"message_id"`
	Filename      string  `db:"filename" json:"filename"`
	ContentType   string  `db:"content_type" json:"content_type"`
	SizeBytes     int64   `db:"size_bytes" json:"size_bytes"`
	StoragePath   string  `db:"storage_path" json:"storage_path"`
	ExtractedText *string `db:"extracted_text" json:"extracted_text,omitempty"`
	AnalysisStatus string `db:"analysis_status" json:"analysis_status"`
	AnalysisError *string `db:"analysis_error" json:"analysis_error,omitempty"`
}

// EmbeddingRecord is one embedded chunk of a logical item, keyed by
// (source_table, source_id, chunk_index). A single item may own multiple
// chunks.
type EmbeddingRecord struct {
	ID          int64  `db:"id" json:"id"`
	SourceType  string `db:"source_type" json:"source_type"`
	SourceTable string `db:"source_table" json:"source_table"`
	SourceID    int64  `db:"source_id" json:"source_id"`
	ChunkIndex  int    `db:"chunk_index" json:"chunk_index"`
	Content     string `db:"content" json:"content"`
}
