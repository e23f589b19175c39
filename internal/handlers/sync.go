package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"mailbase/internal/models"
	"mailbase/internal/syncer"
)

// SyncHandler triggers one synchronous sweep over all active mailboxes
// @Summary Trigger a sync cycle
// @Tags sync
// @Produce json
// @Success 200 {object} models.SyncResponse
// @Router /api/sync [post]
func SyncHandler(s *syncer.Syncer, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats := s.Sweep(c.Request().Context())

		logger.Info().
			Int("mailboxes", stats.Mailboxes).
			Int("ingested", stats.Ingested).
			Int("errors", stats.Errors).
			Msg("Manual sync cycle finished")

		resp := models.SyncResponse{
			Mailboxes: stats.Mailboxes,
			Ingested:  stats.Ingested,
			Errors:    stats.Errors,
		}
		status := http.StatusOK
		if stats.Errors > 0 && stats.Ingested == 0 && stats.Mailboxes == 0 {
			status = http.StatusInternalServerError
			resp.Error = "sync failed"
		}
		return c.JSON(status, resp)
	}
}
