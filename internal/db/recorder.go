package db

import (
	"context"

	"github.com/rs/zerolog"
)

// HistoryRecorder writes job outcomes to print_history. It satisfies the
// queue's callback interface; write errors are logged and dropped.
type HistoryRecorder struct {
	log zerolog.Logger
}

func NewHistoryRecorder(logger zerolog.Logger) *HistoryRecorder {
	return &HistoryRecorder{log: logger}
}

func (r *HistoryRecorder) JobQueued(ctx context.Context, jobID, templateID string) {
	r.record(ctx, &HistoryEntry{JobID: jobID, TemplateID: templateID, Status: StatusQueued})
}

func (r *HistoryRecorder) JobCompleted(ctx context.Context, jobID string) {
	r.record(ctx, &HistoryEntry{JobID: jobID, Status: StatusCompleted})
}

func (r *HistoryRecorder) JobFailed(ctx context.Context, jobID string, errMsg string) {
	r.record(ctx, &HistoryEntry{JobID: jobID, Status: StatusFailed, ErrorMessage: errMsg})
}

func (r *HistoryRecorder) record(ctx context.Context, e *HistoryEntry) {
	if GetDB() == nil {
		return
	}
	if err := History.Record(context.WithoutCancel(ctx), e); err != nil {
		r.log.Warn().Err(err).Str("job_id", e.JobID).Str("status", e.Status).Msg("failed to record job history")
	}
}
