package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"mailbase/internal/models"
)

const defaultThreadPageSize = 50

// ThreadListResponse is one page of threads
type ThreadListResponse struct {
	Threads []models.Thread `json:"threads"`
	Total   int64           `json:"total"`
}

// ThreadDetailResponse is a thread with its messages
type ThreadDetailResponse struct {
	Thread   models.Thread    `json:"thread"`
	Messages []models.Message `json:"messages"`
}

// ThreadsHandler lists threads, newest activity first
// @Summary List threads
// @Tags threads
// @Produce json
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} ThreadListResponse
// @Router /api/threads [get]
func ThreadsHandler(db *sqlx.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := queryInt(c, "limit", defaultThreadPageSize)
		offset := queryInt(c, "offset", 0)
		status := c.QueryParam("status")

		filter := ""
		args := []interface{}{limit, offset}
		if status != "" {
			filter = " WHERE status = $3"
			args = append(args, status)
		}

		var threads []models.Thread
		err := db.SelectContext(c.Request().Context(), &threads, `
			SELECT id, thread_key, subject_normalized, started_at, last_message_at,
			       message_count, participants, status, resolution_marker, resolution_detected_at,
			       summary_short, summary_detailed, key_decisions, action_items,
			       summary_generated_at, summary_model, summary_attempts, priority, sentiment
			FROM threads`+filter+`
			ORDER BY last_message_at DESC
			LIMIT $1 OFFSET $2`, args...)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list threads"})
		}

		var total int64
		countArgs := []interface{}{}
		countFilter := ""
		if status != "" {
			countFilter = " WHERE status = $1"
			countArgs = append(countArgs, status)
		}
		if err := db.GetContext(c.Request().Context(), &total, "SELECT COUNT(*) FROM threads"+countFilter, countArgs...); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to count threads"})
		}

		if threads == nil {
			threads = []models.Thread{}
		}
		return c.JSON(http.StatusOK, ThreadListResponse{Threads: threads, Total: total})
	}
}

// ThreadDetailHandler returns one thread with its messages in order
// @Summary Thread detail
// @Tags threads
// @Produce json
// @Param id path int true "Thread id"
// @Success 200 {object} ThreadDetailResponse
// @Failure 404 {object} map[string]string
// @Router /api/threads/{id} [get]
func ThreadDetailHandler(db *sqlx.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid thread id"})
		}

		var thread models.Thread
		err = db.GetContext(c.Request().Context(), &thread, `
			SELECT id, thread_key, subject_normalized, started_at, last_message_at,
			       message_count, participants, status, resolution_marker, resolution_detected_at,
			       summary_short, summary_detailed, key_decisions, action_items,
			       summary_generated_at, summary_model, summary_attempts, priority, sentiment
			FROM threads WHERE id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "thread not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load thread"})
		}

		var messages []models.Message
		err = db.SelectContext(c.Request().Context(), &messages, `
			SELECT id, mailbox_id, folder, uid, message_id, in_reply_to, references_list,
			       thread_id, sender_person_id, from_address, to_addresses, cc_addresses,
			       subject, subject_normalized, body_text, has_attachments, received_at, processed_at
			FROM messages WHERE thread_id = $1
			ORDER BY received_at ASC`, id)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load messages"})
		}
		if messages == nil {
			messages = []models.Message{}
		}

		return c.JSON(http.StatusOK, ThreadDetailResponse{Thread: thread, Messages: messages})
	}
}

func queryInt(c echo.Context, name string, fallback int) int {
	if raw := c.QueryParam(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return fallback
}
