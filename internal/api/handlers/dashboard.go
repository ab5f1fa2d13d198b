package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/ticketspool/internal/db"
	"github.com/orrn/ticketspool/internal/queue"
)

type DashboardStats struct {
	QueueDepth      int    `json:"queueDepth"`
	ProcessingJobs  int    `json:"processingJobs"`
	CompletedJobs   int    `json:"completedJobs"`
	FailedJobs      int    `json:"failedJobs"`
	ParkedJobs      int    `json:"parkedJobs"`
	PrinterOnline   bool   `json:"printerOnline"`
	PrinterCanPrint bool   `json:"printerCanPrint"`
	PrinterSeen     string `json:"printerLastSeen"`

	HistoryCompleted int64 `json:"historyCompleted"`
	HistoryFailed    int64 `json:"historyFailed"`
}

type DashboardHandler struct {
	queue   *queue.Manager
	printer StatusChecker
}

func NewDashboardHandler(manager *queue.Manager, status StatusChecker) *DashboardHandler {
	return &DashboardHandler{
		queue:   manager,
		printer: status,
	}
}

func (h *DashboardHandler) GetDashboardStats(c *gin.Context) {
	snap := h.queue.Snapshot()
	stats := DashboardStats{
		QueueDepth:     snap.Pending,
		ProcessingJobs: snap.Processing,
		CompletedJobs:  snap.Completed,
		FailedJobs:     snap.Failed,
		PrinterSeen:    "never",
	}

	if ids, err := h.queue.Store().List(queue.StageFailed); err == nil {
		stats.ParkedJobs = len(ids)
	}

	if h.printer != nil {
		st := h.printer.LastStatus()
		stats.PrinterOnline = st.Online
		stats.PrinterCanPrint = st.CanPrint
		stats.PrinterSeen = formatLastSeen(st.LastChecked, time.Now())
	}

	if db.GetDB() != nil {
		ctx := c.Request.Context()
		stats.HistoryCompleted, _ = db.History.CountByStatus(ctx, db.StatusCompleted)
		stats.HistoryFailed, _ = db.History.CountByStatus(ctx, db.StatusFailed)
	}

	c.JSON(http.StatusOK, stats)
}

func formatLastSeen(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	}
	return t.Format("Jan 2, 15:04")
}

func (h *DashboardHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard/stats", h.GetDashboardStats)
}
