package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"mailbase/internal/cache"
	"mailbase/internal/models"
	"mailbase/internal/retrieval"
)

const queryCacheTTL = 5 * time.Minute

// Answerer generates a natural-language answer from retrieved evidence
type Answerer interface {
	Answer(ctx context.Context, question string, evidence []string) (string, error)
}

// QueryResponse is the body returned by POST /api/query
type QueryResponse struct {
	Question string               `json:"question"`
	Evidence []retrieval.Evidence `json:"evidence"`
	Answer   string               `json:"answer,omitempty"`
	Cached   bool                 `json:"cached"`
}

// QueryHandler runs hybrid retrieval over the mail corpus, optionally
// generating an answer from the evidence
// @Summary Query the knowledge base
// @Tags query
// @Accept json
// @Produce json
// @Param request body models.QueryRequest true "Query"
// @Success 200 {object} QueryResponse
// @Failure 400 {object} map[string]string
// @Router /api/query [post]
func QueryHandler(engine *retrieval.Engine, answerer Answerer, queryCache *cache.Cache, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req models.QueryRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		if strings.TrimSpace(req.Question) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "question is required"})
		}

		key := cacheKey(&req)
		if cached, ok := queryCache.Get(key); ok {
			if resp, ok := cached.(*QueryResponse); ok {
				out := *resp
				out.Cached = true
				return c.JSON(http.StatusOK, out)
			}
		}

		opts := retrieval.Options{
			TopK:         req.TopK,
			SourceTables: req.SourceTables,
		}
		if req.From != nil && req.To != nil {
			opts.TimeRange = &retrieval.TimeRange{From: *req.From, To: *req.To}
		}

		evidence, err := engine.Query(c.Request().Context(), req.Question, opts)
		if err != nil {
			logger.Error().Err(err).Str("question", req.Question).Msg("Query failed")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		resp := &QueryResponse{Question: req.Question, Evidence: evidence}

		if req.Answer && answerer != nil && len(evidence) > 0 {
			excerpts := make([]string, 0, len(evidence))
			for _, ev := range evidence {
				excerpts = append(excerpts, fmt.Sprintf("From %s on %s:\n%s",
					ev.FromAddress, ev.ReceivedAt.Format("2006-01-02"), ev.Content))
			}
			answer, err := answerer.Answer(c.Request().Context(), req.Question, excerpts)
			if err != nil {
				// evidence is still useful without the generated answer
				logger.Warn().Err(err).Msg("Answer generation failed")
			} else {
				resp.Answer = answer
			}
		}

		queryCache.Set(key, resp, queryCacheTTL)
		return c.JSON(http.StatusOK, resp)
	}
}

func cacheKey(req *models.QueryRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%t", req.Question, strings.Join(req.SourceTables, ","), req.Answer)
	if req.TopK != nil {
		fmt.Fprintf(h, "|k=%d", *req.TopK)
	}
	if req.From != nil {
		fmt.Fprintf(h, "|from=%d", req.From.Unix())
	}
	if req.To != nil {
		fmt.Fprintf(h, "|to=%d", req.To.Unix())
	}
	return "query:" + hex.EncodeToString(h.Sum(nil))
}
