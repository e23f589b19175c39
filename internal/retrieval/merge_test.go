package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kwEvidence(id int64, score float64, content string) Evidence {
	return Evidence{SourceTable: "messages", SourceID: id, Content: content, KeywordScore: score}
}

func vecEvidence(id int64, chunk int, score float64, content string) Evidence {
	return Evidence{SourceTable: "messages", SourceID: id, ChunkIndex: chunk, Content: content, VectorScore: score}
}

func TestMerge_DedupesAcrossPasses(t *testing.T) {
	keyword := []Evidence{
		kwEvidence(1, 0.9, "printer offline on floor three"),
		kwEvidence(2, 0.4, "vpn certificate renewal"),
	}
	vector := []Evidence{
		vecEvidence(1, 0, 0.8, "printer offline on floor three"),
		vecEvidence(3, 1, 0.7, "badge reader failure"),
	}

	results := Merge(keyword, vector, "printer offline", 10)
	require.Len(t, results, 3)

	ids := make(map[int64]int)
	for _, r := range results {
		ids[r.SourceID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "source id %d appears %d times", id, n)
	}
}

func TestMerge_ItemInBothPassesRanksFirst(t *testing.T) {
	keyword := []Evidence{
		kwEvidence(1, 0.9, "printer offline"),
		kwEvidence(2, 0.5, "unrelated keyword hit"),
	}
	vector := []Evidence{
		vecEvidence(1, 0, 0.85, "printer offline"),
		vecEvidence(3, 0, 0.5, "semantic-only hit"),
	}

	results := Merge(keyword, vector, "printer", 10)
	assert.Equal(t, int64(1), results[0].SourceID)
}

func TestMerge_TopKCut(t *testing.T) {
	keyword := []Evidence{
		kwEvidence(1, 0.9, "a"), kwEvidence(2, 0.8, "b"),
		kwEvidence(3, 0.7, "c"), kwEvidence(4, 0.6, "d"),
	}

	results := Merge(keyword, nil, "query", 2)
	assert.Len(t, results, 2)
}

func TestMerge_TopKZero(t *testing.T) {
	assert.Empty(t, Merge([]Evidence{kwEvidence(1, 1, "x")}, nil, "query", 0))
}

func TestMerge_EmptyPasses(t *testing.T) {
	results := Merge(nil, nil, "query", 5)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestMerge_ExactTermBoostsKeywordHit(t *testing.T) {
	// both items score identically per pass; the one containing the exact
	// invoice number must win the keyword-weighted blend
	keyword := []Evidence{
		kwEvidence(1, 0.8, "regarding invoice 4711, payment is overdue"),
	}
	vector := []Evidence{
		vecEvidence(2, 0, 0.95, "general note about overdue payments and invoices"),
	}

	results := Merge(keyword, vector, "invoice 4711", 10)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].SourceID)
}

func TestMerge_RecencyBreaksTies(t *testing.T) {
	older := kwEvidence(1, 0.5, "same score")
	older.ReceivedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := kwEvidence(2, 0.5, "same score")
	newer.ReceivedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	results := Merge([]Evidence{older, newer}, nil, "score", 10)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].SourceID)
}

func TestMerge_VectorChunkReplacesWeakerKeywordSnippet(t *testing.T) {
	keyword := []Evidence{kwEvidence(5, 0.1, "keyword snippet")}
	strong := vecEvidence(5, 3, 0.9, "the chunk the vector pass surfaced")
	weak := vecEvidence(6, 0, 0.2, "other")

	results := Merge(keyword, []Evidence{strong, weak}, "query", 10)
	for _, r := range results {
		if r.SourceID == 5 {
			assert.Equal(t, 3, r.ChunkIndex)
			assert.Equal(t, "the chunk the vector pass surfaced", r.Content)
		}
	}
}
