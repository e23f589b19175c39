package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbase/internal/models"
)

// fakeEmbedder returns a fixed vector, failing for chunks that contain any
// of its poison substrings.
type fakeEmbedder struct {
	poison []string
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	for _, p := range f.poison {
		if strings.Contains(text, p) {
			return nil, errors.New("embedding provider unavailable")
		}
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func newMockIndexer(t *testing.T, embedder Embedder) (*Indexer, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")
	return New(db, embedder, NewChunker(100, 20), zerolog.Nop()), mock
}

func TestUpsert_AllChunksSucceed(t *testing.T) {
	ix, mock := newMockIndexer(t, &fakeEmbedder{})

	mock.ExpectExec("INSERT INTO embeddings").
		WithArgs("email", "messages", int64(1), 0, "first chunk of content", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO embeddings").
		WithArgs("email", "messages", int64(1), 1, "second chunk of content", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("DELETE FROM embeddings").
		WithArgs("messages", int64(1), 2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := ix.Upsert(context.Background(), "messages", 1, "email",
		[]string{"first chunk of content", "second chunk of content"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_FailedChunkDoesNotBlockSiblings(t *testing.T) {
	ix, mock := newMockIndexer(t, &fakeEmbedder{poison: []string{"second"}})

	mock.ExpectExec("INSERT INTO embeddings").
		WithArgs("email", "messages", int64(1), 0, "first chunk of content", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// chunk 1 fails at the embedder, chunk 2 still lands
	mock.ExpectExec("INSERT INTO embeddings").
		WithArgs("email", "messages", int64(1), 2, "third chunk of content", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec("DELETE FROM embeddings").
		WithArgs("messages", int64(1), 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := ix.Upsert(context.Background(), "messages", 1, "email",
		[]string{"first chunk of content", "second chunk of content", "third chunk of content"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, result.Succeeded)
	assert.Equal(t, []int{1}, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RemovesStaleChunks(t *testing.T) {
	ix, mock := newMockIndexer(t, &fakeEmbedder{})

	mock.ExpectExec("INSERT INTO embeddings").
		WithArgs("email", "messages", int64(7), 0, "only remaining chunk", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM embeddings").
		WithArgs("messages", int64(7), 1).
		WillReturnResult(sqlmock.NewResult(0, 3))

	result, err := ix.Upsert(context.Background(), "messages", 7, "email", []string{"only remaining chunk"})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, result.Succeeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_EmptyContentOnlyPrunes(t *testing.T) {
	ix, mock := newMockIndexer(t, &fakeEmbedder{})

	mock.ExpectExec("DELETE FROM embeddings").
		WithArgs("messages", int64(3), 0).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := ix.Upsert(context.Background(), "messages", 3, "email", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexMessage_FallsBackToHTML(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix, mock := newMockIndexer(t, embedder)

	mock.ExpectExec("INSERT INTO embeddings").
		WithArgs("email", "messages", int64(5), 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM embeddings").
		WithArgs("messages", int64(5), 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	msg := &models.Message{
		ID:       5,
		Subject:  "Printer offline",
		BodyHTML: "<p>The printer is offline again, please advise.</p>",
	}
	result, err := ix.IndexMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, result.Succeeded)
	assert.Equal(t, 1, embedder.calls)
}

func TestStats(t *testing.T) {
	ix, mock := newMockIndexer(t, &fakeEmbedder{})

	mock.ExpectQuery("SELECT source_type, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"source_type", "count"}).
			AddRow("email", 120).
			AddRow("attachment", 8))

	stats, err := ix.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(128), stats.Total)
	assert.Equal(t, int64(120), stats.ByType["email"])
	assert.Equal(t, int64(8), stats.ByType["attachment"])
}
