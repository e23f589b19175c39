package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mailbase/internal/index"
)

// StatsHandler reports embedding index statistics
// @Summary Embedding index statistics
// @Tags stats
// @Produce json
// @Success 200 {object} models.IndexStats
// @Router /api/stats [get]
func StatsHandler(indexer *index.Indexer) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats, err := indexer.Stats(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read index stats"})
		}
		return c.JSON(http.StatusOK, stats)
	}
}
