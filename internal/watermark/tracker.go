// Package watermark tracks per-mailbox, per-folder sync cursors. A watermark
// is the UID of the last fully-persisted message in a folder sub-stream; it
// only moves forward, and only inside the transaction that commits the batch
// it represents.
package watermark

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"mailbase/internal/models"
)

// Tracker reads and advances mailbox watermarks
type Tracker struct {
	db *sqlx.DB
}

// New creates a new watermark tracker
func New(db *sqlx.DB) *Tracker {
	return &Tracker{db: db}
}

func column(folder string) (string, error) {
	switch folder {
	case models.FolderInbox:
		return "last_uid_inbox", nil
	case models.FolderSent:
		return "last_uid_sent", nil
	default:
		return "", fmt.Errorf("unknown folder %q", folder)
	}
}

// Read returns the current watermark for a mailbox folder, 0 for an unseen
// combination.
func (t *Tracker) Read(ctx context.Context, mailboxID int64, folder string) (int64, error) {
	col, err := column(folder)
	if err != nil {
		return 0, err
	}

	var uid int64
	query := fmt.Sprintf("SELECT COALESCE(%s, 0) FROM mailboxes WHERE id = $1", col)
	if err := t.db.GetContext(ctx, &uid, query, mailboxID); err != nil {
		return 0, fmt.Errorf("failed to read watermark for mailbox %d/%s: %w", mailboxID, folder, err)
	}
	return uid, nil
}

// Advance moves the watermark forward to uid within the given transaction.
// GREATEST makes the update a no-op when uid is not ahead of the stored
// value, so the watermark is monotonically non-decreasing under any
// interleaving of retries.
func (t *Tracker) Advance(ctx context.Context, tx *sqlx.Tx, mailboxID int64, folder string, uid int64) error {
	col, err := column(folder)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("UPDATE mailboxes SET %s = GREATEST(%s, $1) WHERE id = $2", col, col)
	res, err := tx.ExecContext(ctx, query, uid, mailboxID)
	if err != nil {
		return fmt.Errorf("failed to advance watermark for mailbox %d/%s: %w", mailboxID, folder, err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("mailbox %d not found", mailboxID)
	}
	return nil
}
