package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mailbase/internal/models"
)

// RawMessage is one unparsed message as fetched from the source, identified
// by its folder-local UID.
type RawMessage struct {
	UID int64
	Raw []byte
}

// Fetcher retrieves messages with UID > sinceUID from one folder of a
// mailbox, in ascending UID order.
type Fetcher interface {
	FetchSince(ctx context.Context, mailbox *models.Mailbox, folder string, sinceUID int64) ([]RawMessage, error)
}

// DirFetcher reads RFC 822 files from <root>/<mailbox-address>/<folder>/,
// where each file is named <uid>.eml. The UID in the filename is the
// folder-local watermark key, so a drop directory behaves exactly like a
// remote folder.
type DirFetcher struct {
	root string
}

// NewDirFetcher creates a directory-backed fetcher
func NewDirFetcher(root string) *DirFetcher {
	return &DirFetcher{root: root}
}

// FetchSince lists the folder directory and returns every message with
// UID > sinceUID, ascending. A missing directory yields no messages, not an
// error: an unused folder is a valid state.
func (f *DirFetcher) FetchSince(ctx context.Context, mailbox *models.Mailbox, folder string, sinceUID int64) ([]RawMessage, error) {
	dir := filepath.Join(f.root, mailbox.Address, folder)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	uids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".eml") {
			continue
		}
		uid, err := strconv.ParseInt(strings.TrimSuffix(name, filepath.Ext(name)), 10, 64)
		if err != nil || uid <= sinceUID {
			continue
		}
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	messages := make([]RawMessage, 0, len(uids))
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("%d.eml", uid)))
		if err != nil {
			return nil, fmt.Errorf("failed to read message %d: %w", uid, err)
		}
		messages = append(messages, RawMessage{UID: uid, Raw: raw})
	}
	return messages, nil
}
