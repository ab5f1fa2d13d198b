package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/db"
	"github.com/orrn/ticketspool/internal/queue"
	"github.com/orrn/ticketspool/internal/templates"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type QueueSnapshot struct {
	Position   int `json:"position"`
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

type PrintResponse struct {
	Success       bool          `json:"success"`
	Message       string        `json:"message"`
	JobID         string        `json:"jobId"`
	QueueSnapshot QueueSnapshot `json:"queueSnapshot"`
}

type ListHistoryQuery struct {
	Limit int `form:"limit"`
}

type JobHandler struct {
	queue     *queue.Manager
	templates *templates.Registry
	history   *db.HistoryRecorder
	log       zerolog.Logger
}

func NewJobHandler(manager *queue.Manager, registry *templates.Registry, history *db.HistoryRecorder, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		queue:     manager,
		templates: registry,
		history:   history,
		log:       logger,
	}
}

// Print validates the body against its template and enqueues it.
func (h *JobHandler) Print(c *gin.Context) {
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil || data == nil {
		details := "se esperaba un objeto JSON"
		if err != nil {
			details = err.Error()
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Cuerpo de solicitud inválido", Details: details})
		return
	}

	ctx := c.Request.Context()

	templateID, _ := data["templateId"].(string)
	if templateID == "" {
		templateID = templates.Receipt
	}

	result, err := h.templates.Validate(ctx, templateID, data)
	if err != nil {
		h.log.Error().Err(err).Str("template", templateID).Msg("failed to validate print request")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Error al procesar la solicitud de impresión",
			Details: err.Error(),
		})
		return
	}
	if !result.Valid {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Datos inválidos para la plantilla",
			Details: "Campos faltantes: " + strings.Join(result.MissingFields, ", "),
		})
		return
	}

	now := time.Now()
	jobID := queue.NewJobID(now)

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["_templateInfo"] = map[string]any{
		"id":        templateID,
		"timestamp": now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"jobId":     jobID,
	}

	res, err := h.queue.Enqueue(ctx, jobID, payload)
	if err != nil || !res.Success {
		details := res.Error
		if err != nil {
			details = err.Error()
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Error al procesar la solicitud de impresión",
			Details: details,
		})
		return
	}

	h.history.JobQueued(ctx, jobID, templateID)
	snap := h.queue.Snapshot()
	h.queue.Trigger()

	c.JSON(http.StatusOK, PrintResponse{
		Success: true,
		Message: "Trabajo encolado correctamente",
		JobID:   res.JobID,
		QueueSnapshot: QueueSnapshot{
			Position:   res.Position,
			Total:      res.Total,
			Pending:    snap.Pending,
			Processing: snap.Processing,
		},
	})
}

func (h *JobHandler) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Snapshot())
}

func (h *JobHandler) ListFailed(c *gin.Context) {
	jobs, err := h.queue.ListFailed()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list failed jobs", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) RetryFailed(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.RetryFailed(c.Request.Context(), id); err != nil {
		h.respondJobError(c, id, err)
		return
	}

	h.history.JobQueued(c.Request.Context(), id, "")
	h.queue.Trigger()
	c.JSON(http.StatusOK, gin.H{"success": true, "jobId": id})
}

func (h *JobHandler) PurgeFailed(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.PurgeFailed(id); err != nil {
		h.respondJobError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobId": id})
}

func (h *JobHandler) respondJobError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found", Details: id})
	case errors.Is(err, queue.ErrInvalidJobID):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid job id", Details: err.Error()})
	default:
		h.log.Error().Err(err).Str("job_id", id).Msg("failed job operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to update job", Details: err.Error()})
	}
}

func (h *JobHandler) ListHistory(c *gin.Context) {
	var query ListHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query", Details: err.Error()})
		return
	}

	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 500 {
		query.Limit = 500
	}

	if db.GetDB() == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history is not available"})
		return
	}

	entries, err := db.History.ListRecent(c.Request.Context(), query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list history", Details: err.Error()})
		return
	}
	if entries == nil {
		entries = []*db.HistoryEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   query.Limit,
		"count":   len(entries),
	})
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/imprimir", h.Print)
	r.POST("/print", h.Print)
	r.GET("/print-queue/status", h.QueueStatus)
}

func (h *JobHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/failed", h.ListFailed)
	r.POST("/failed/:id/retry", h.RetryFailed)
	r.DELETE("/failed/:id", h.PurgeFailed)
	r.GET("/history", h.ListHistory)
}
