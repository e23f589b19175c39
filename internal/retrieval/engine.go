// Package retrieval answers questions about the mail corpus by combining a
// keyword pass (Postgres full-text), a vector pass (pgvector cosine NN with
// freshness weighting) and temporal constraints inferred from the query.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
)

// Evidence is one retrieved item. Score is the final blended rank;
// KeywordScore and VectorScore hold the per-pass normalized components.
type Evidence struct {
	SourceTable string    `json:"source_table"`
	SourceID    int64     `json:"source_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Content     string    `json:"content"`
	Subject     string    `json:"subject,omitempty"`
	FromAddress string    `json:"from,omitempty"`
	ThreadID    *int64    `json:"thread_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`

	Score        float64 `json:"score"`
	KeywordScore float64 `json:"keyword_score"`
	VectorScore  float64 `json:"vector_score"`
}

// Embedder turns the query into a vector for the vector pass
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune one query. A nil TopK falls back to the engine default; an
// explicit 0 is honored and yields no results.
type Options struct {
	TopK         *int
	SourceTables []string
	TimeRange    *TimeRange
}

// Engine runs hybrid retrieval over messages and embeddings
type Engine struct {
	db              *sqlx.DB
	embedder        Embedder
	defaultTopK     int
	freshnessWeight float64
	decayDays       int
	logger          zerolog.Logger
}

// New creates a retrieval engine
func New(db *sqlx.DB, embedder Embedder, defaultTopK int, freshnessWeight float64, decayDays int, logger zerolog.Logger) *Engine {
	return &Engine{
		db:              db,
		embedder:        embedder,
		defaultTopK:     defaultTopK,
		freshnessWeight: freshnessWeight,
		decayDays:       decayDays,
		logger:          logger,
	}
}

// Query runs both passes and merges them. A query resolving to zero results
// returns an empty slice, not an error. A failed vector pass degrades to
// keyword-only results rather than failing the query.
func (e *Engine) Query(ctx context.Context, query string, opts Options) ([]Evidence, error) {
	topK := e.defaultTopK
	if opts.TopK != nil {
		topK = *opts.TopK
	}
	if topK <= 0 {
		return []Evidence{}, nil
	}

	timeRange := opts.TimeRange
	if timeRange == nil {
		timeRange = ExtractTimeRange(query, time.Now())
	}
	freshness := e.freshnessWeight
	if timeRange != nil && timeRange.BoostFreshness {
		freshness = math.Min(freshness*2, 0.6)
	}

	// both passes over-fetch so the merge has material to dedupe
	fetchK := topK * 2

	keyword, err := e.keywordPass(ctx, query, fetchK, timeRange)
	if err != nil {
		return nil, err
	}

	vector, err := e.vectorPass(ctx, query, fetchK, opts.SourceTables, timeRange, freshness)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Vector pass failed, falling back to keyword results")
		vector = nil
	}

	return Merge(keyword, vector, query, topK), nil
}

func (e *Engine) keywordPass(ctx context.Context, query string, limit int, timeRange *TimeRange) ([]Evidence, error) {
	args := []interface{}{query, limit}
	timeFilter := ""
	if timeRange != nil {
		timeFilter = " AND m.received_at >= $3 AND m.received_at < $4"
		args = append(args, timeRange.From, timeRange.To)
	}

	rows, err := e.db.QueryxContext(ctx, fmt.Sprintf(`
		SELECT m.id, m.subject, m.from_address, m.thread_id, m.received_at,
		       LEFT(m.body_text, 1500) AS snippet,
		       ts_rank(to_tsvector('english', coalesce(m.subject, '') || ' ' || coalesce(m.body_text, '')),
		               plainto_tsquery('english', $1)) AS rank
		FROM messages m
		WHERE to_tsvector('english', coalesce(m.subject, '') || ' ' || coalesce(m.body_text, ''))
		      @@ plainto_tsquery('english', $1)%s
		ORDER BY rank DESC
		LIMIT $2`, timeFilter), args...)
	if err != nil {
		return nil, fmt.Errorf("keyword pass failed: %w", err)
	}
	defer rows.Close()

	var results []Evidence
	for rows.Next() {
		var ev Evidence
		var snippet string
		var rank float64
		if err := rows.Scan(&ev.SourceID, &ev.Subject, &ev.FromAddress, &ev.ThreadID, &ev.ReceivedAt, &snippet, &rank); err != nil {
			return nil, fmt.Errorf("keyword pass scan failed: %w", err)
		}
		ev.SourceTable = "messages"
		ev.Content = snippet
		ev.KeywordScore = rank
		results = append(results, ev)
	}
	return results, rows.Err()
}

func (e *Engine) vectorPass(ctx context.Context, query string, limit int, sourceTables []string, timeRange *TimeRange, freshness float64) ([]Evidence, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if sourceTables == nil {
		sourceTables = []string{}
	}
	args := []interface{}{pgvector.NewVector(embedding), pq.Array(sourceTables), limit}
	timeFilter := ""
	if timeRange != nil {
		timeFilter = " AND COALESCE(m.received_at, am.received_at) >= $4 AND COALESCE(m.received_at, am.received_at) < $5"
		args = append(args, timeRange.From, timeRange.To)
	}

	rows, err := e.db.QueryxContext(ctx, fmt.Sprintf(`
		SELECT e.source_table, e.source_id, e.chunk_index, e.content,
		       1 - (e.embedding <=> $1) AS similarity,
		       COALESCE(m.subject, am.subject, '') AS subject,
		       COALESCE(m.from_address, am.from_address, '') AS from_address,
		       COALESCE(m.thread_id, am.thread_id) AS thread_id,
		       COALESCE(m.received_at, am.received_at, now()) AS received_at
		FROM embeddings e
		LEFT JOIN messages m ON e.source_table = 'messages' AND m.id = e.source_id
		LEFT JOIN attachments a ON e.source_table = 'attachments' AND a.id = e.source_id
		LEFT JOIN messages am ON am.id = a.message_id
		WHERE (cardinality($2::text[]) = 0 OR e.source_table = ANY($2))%s
		ORDER BY e.embedding <=> $1
		LIMIT $3`, timeFilter), args...)
	if err != nil {
		return nil, fmt.Errorf("vector pass failed: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	decaySeconds := float64(e.decayDays) * 86400

	var results []Evidence
	for rows.Next() {
		var ev Evidence
		var similarity float64
		if err := rows.Scan(&ev.SourceTable, &ev.SourceID, &ev.ChunkIndex, &ev.Content,
			&similarity, &ev.Subject, &ev.FromAddress, &ev.ThreadID, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("vector pass scan failed: %w", err)
		}
		ev.VectorScore = freshnessWeighted(similarity, now.Sub(ev.ReceivedAt), decaySeconds, freshness)
		results = append(results, ev)
	}
	return results, rows.Err()
}

// freshnessWeighted blends cosine similarity with an exponential recency
// term: score = similarity*(1-w) + exp(-age/decay)*w.
func freshnessWeighted(similarity float64, age time.Duration, decaySeconds, weight float64) float64 {
	if weight <= 0 || decaySeconds <= 0 {
		return similarity
	}
	ageSeconds := age.Seconds()
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	recency := math.Exp(-ageSeconds / decaySeconds)
	return similarity*(1-weight) + recency*weight
}
