package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbase/internal/ingest"
	"mailbase/internal/models"
	"mailbase/internal/notify"
	"mailbase/internal/threads"
	"mailbase/internal/watermark"
)

type fakeFolderSyncer struct {
	mu      sync.Mutex
	calls   []string
	stats   map[string]*ingest.Stats
	failOn  string
	blockCh chan struct{}
}

func (f *fakeFolderSyncer) SyncFolder(_ context.Context, mailbox *models.Mailbox, folder string, sinceUID int64) (*ingest.Stats, error) {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	f.calls = append(f.calls, mailbox.Address+"/"+folder)
	f.mu.Unlock()
	if folder == f.failOn {
		return &ingest.Stats{}, errors.New("mail server unreachable")
	}
	if s, ok := f.stats[folder]; ok {
		return s, nil
	}
	return &ingest.Stats{}, nil
}

type fakeHandler struct {
	mu     sync.Mutex
	events []threads.CompletionEvent
}

func (f *fakeHandler) HandleCompletion(_ context.Context, ev threads.CompletionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type silentNotifier struct {
	mu         sync.Mutex
	syncErrors []notify.SyncErrorEvent
}

func (n *silentNotifier) ThreadResolved(context.Context, notify.ResolvedEvent) {}
func (n *silentNotifier) SyncError(_ context.Context, ev notify.SyncErrorEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.syncErrors = append(n.syncErrors, ev)
}
func (n *silentNotifier) NeedsReview(context.Context, notify.ReviewEvent) {}

func newMockSyncer(t *testing.T, folderSyncer FolderSyncer, handler CompletionHandler) (*Syncer, sqlmock.Sqlmock, *silentNotifier) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")
	notifier := &silentNotifier{}
	s := New(db, folderSyncer, watermark.New(db), handler, notifier, time.Minute, time.Minute, zerolog.Nop())
	return s, mock, notifier
}

func mailbox(id int64, addr string) *models.Mailbox {
	return &models.Mailbox{ID: id, Address: addr, IsActive: true}
}

func expectStatus(mock sqlmock.Sqlmock, status string) {
	mock.ExpectExec("UPDATE mailboxes SET sync_status").
		WithArgs(int64(1), status, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectWatermarkRead(mock sqlmock.Sqlmock, column string, uid int64) {
	mock.ExpectQuery("SELECT COALESCE\\(" + column + ", 0\\) FROM mailboxes").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(uid))
}

func TestSyncMailbox_HappyPath(t *testing.T) {
	fs := &fakeFolderSyncer{stats: map[string]*ingest.Stats{
		models.FolderInbox: {Inserted: 3, Events: []threads.CompletionEvent{{ThreadID: 5, MessageID: 9, Marker: "works now"}}},
		models.FolderSent:  {Inserted: 1},
	}}
	handler := &fakeHandler{}
	s, mock, _ := newMockSyncer(t, fs, handler)

	expectStatus(mock, models.SyncStatusSyncing)
	expectWatermarkRead(mock, "last_uid_inbox", 10)
	expectWatermarkRead(mock, "last_uid_sent", 4)
	expectStatus(mock, models.SyncStatusIdle)

	ingested, err := s.SyncMailbox(context.Background(), mailbox(1, "support@corp.example.org"))
	require.NoError(t, err)
	assert.Equal(t, 4, ingested)
	assert.Equal(t, []string{
		"support@corp.example.org/INBOX",
		"support@corp.example.org/Sent",
	}, fs.calls)
	require.Len(t, handler.events, 1)
	assert.Equal(t, int64(5), handler.events[0].ThreadID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncMailbox_FolderFailureSetsErrorStatus(t *testing.T) {
	fs := &fakeFolderSyncer{failOn: models.FolderInbox}
	s, mock, notifier := newMockSyncer(t, fs, &fakeHandler{})

	expectStatus(mock, models.SyncStatusSyncing)
	expectWatermarkRead(mock, "last_uid_inbox", 10)
	expectStatus(mock, models.SyncStatusError)

	_, err := s.SyncMailbox(context.Background(), mailbox(1, "support@corp.example.org"))
	assert.Error(t, err)
	require.Len(t, notifier.syncErrors, 1)
	assert.Equal(t, "support@corp.example.org", notifier.syncErrors[0].Mailbox)
	assert.Equal(t, models.FolderInbox, notifier.syncErrors[0].Folder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncMailbox_OverlappingCycleSkipped(t *testing.T) {
	block := make(chan struct{})
	fs := &fakeFolderSyncer{blockCh: block}
	s, mock, _ := newMockSyncer(t, fs, &fakeHandler{})

	expectStatus(mock, models.SyncStatusSyncing)
	expectWatermarkRead(mock, "last_uid_inbox", 0)
	expectWatermarkRead(mock, "last_uid_sent", 0)
	expectStatus(mock, models.SyncStatusIdle)

	done := make(chan struct{})
	go func() {
		_, _ = s.SyncMailbox(context.Background(), mailbox(1, "a@example.com"))
		close(done)
	}()

	// wait for the first cycle to hold the slot
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.running[1]
	}, time.Second, time.Millisecond)

	ingested, err := s.SyncMailbox(context.Background(), mailbox(1, "a@example.com"))
	require.NoError(t, err)
	assert.Zero(t, ingested)

	close(block)
	<-done
}

func TestSweep_OneMailboxErrorDoesNotBlockOthers(t *testing.T) {
	fs := &fakeFolderSyncer{failOn: models.FolderSent, stats: map[string]*ingest.Stats{
		models.FolderInbox: {Inserted: 2},
	}}
	s, mock, _ := newMockSyncer(t, fs, &fakeHandler{})

	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("SELECT id, address").
		WillReturnRows(sqlmock.NewRows([]string{"id", "address", "imap_host", "imap_port", "last_uid_inbox", "last_uid_sent", "sync_status", "is_active"}).
			AddRow(1, "a@example.com", "", 0, 0, 0, models.SyncStatusIdle, true).
			AddRow(2, "b@example.com", "", 0, 0, 0, models.SyncStatusIdle, true))
	// per-mailbox status updates and watermark reads, interleaved across goroutines
	for i := 0; i < 4; i++ {
		mock.ExpectExec("UPDATE mailboxes SET sync_status").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT COALESCE\\(last_uid_inbox, 0\\)").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
		mock.ExpectQuery("SELECT COALESCE\\(last_uid_sent, 0\\)").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	}

	stats := s.Sweep(context.Background())
	assert.Equal(t, 2, stats.Mailboxes)
	assert.Equal(t, 4, stats.Ingested) // inbox succeeded for both
	assert.Equal(t, 2, stats.Errors)   // sent failed for both
}
