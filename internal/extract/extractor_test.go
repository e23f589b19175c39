package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbase/internal/index"
	"mailbase/internal/models"
)

type fakeExtractor struct {
	texts map[int64]string
	fail  map[int64]error
}

func (f *fakeExtractor) Extract(_ context.Context, att models.Attachment) (string, error) {
	if err, ok := f.fail[att.ID]; ok {
		return "", err
	}
	return f.texts[att.ID], nil
}

type okEmbedder struct{}

func (okEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func newMockProcessor(t *testing.T, extractor Extractor) (*Processor, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")
	indexer := index.New(db, okEmbedder{}, index.NewChunker(2200, 200), zerolog.Nop())
	return NewProcessor(db, extractor, indexer, zerolog.Nop()), mock
}

func pendingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "message_id", "filename", "content_type", "size_bytes", "storage_path", "analysis_status"})
}

func TestProcessPending_CompletesAndIndexes(t *testing.T) {
	extractor := &fakeExtractor{texts: map[int64]string{3: "Quarterly revenue grew by twelve percent."}}
	p, mock := newMockProcessor(t, extractor)

	mock.ExpectQuery("UPDATE attachments SET analysis_status").
		WillReturnRows(pendingRows().
			AddRow(3, 10, "report.pdf", "application/pdf", 2048, "/data/att/3", models.AnalysisStatusProcessing))

	mock.ExpectExec("UPDATE attachments SET analysis_status").
		WithArgs(int64(3), models.AnalysisStatusCompleted, "Quarterly revenue grew by twelve percent.").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO embeddings").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM embeddings").
		WillReturnResult(sqlmock.NewResult(0, 0))

	completed, err := p.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessPending_FailureMarksFailedAndContinues(t *testing.T) {
	extractor := &fakeExtractor{
		texts: map[int64]string{4: "Readable content from the second file."},
		fail:  map[int64]error{3: errors.New("unsupported format")},
	}
	p, mock := newMockProcessor(t, extractor)

	mock.ExpectQuery("UPDATE attachments SET analysis_status").
		WillReturnRows(pendingRows().
			AddRow(3, 10, "broken.bin", "application/octet-stream", 100, "/data/att/3", models.AnalysisStatusProcessing).
			AddRow(4, 11, "notes.txt", "text/plain", 300, "/data/att/4", models.AnalysisStatusProcessing))

	mock.ExpectExec("UPDATE attachments SET analysis_status").
		WithArgs(int64(3), models.AnalysisStatusFailed, "unsupported format").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE attachments SET analysis_status").
		WithArgs(int64(4), models.AnalysisStatusCompleted, "Readable content from the second file.").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO embeddings").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM embeddings").
		WillReturnResult(sqlmock.NewResult(0, 0))

	completed, err := p.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessPending_NothingPending(t *testing.T) {
	p, mock := newMockProcessor(t, &fakeExtractor{})

	mock.ExpectQuery("UPDATE attachments SET analysis_status").
		WillReturnRows(pendingRows())

	completed, err := p.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, completed)
}
