package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/db"
	"github.com/orrn/ticketspool/internal/queue"
)

const defaultInterval = 24 * time.Hour

type Config struct {
	RetentionDays int
	Interval      time.Duration
}

type Report struct {
	HistoryRows int64 `json:"historyRows"`
	FailedJobs  int   `json:"failedJobs"`
}

// Janitor prunes history rows and parked failed jobs older than the retention
// window. A retention of zero days keeps everything.
type Janitor struct {
	store     *queue.Store
	retention int
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time
	mu        sync.Mutex
}

func NewJanitor(store *queue.Store, cfg Config, logger zerolog.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Janitor{
		store:     store,
		retention: cfg.RetentionDays,
		interval:  cfg.Interval,
		log:       logger,
		now:       time.Now,
	}
}

// Run prunes once at startup and then on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if j.retention <= 0 {
		j.log.Info().Msg("retention disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *Janitor) runAndLog(ctx context.Context) {
	report, err := j.RunOnce(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("retention pass failed")
		return
	}
	if report.HistoryRows > 0 || report.FailedJobs > 0 {
		j.log.Info().
			Int64("history_rows", report.HistoryRows).
			Int("failed_jobs", report.FailedJobs).
			Msg("pruned old records")
	}
}

func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var report Report
	if j.retention <= 0 {
		return report, nil
	}

	cutoff := j.now().AddDate(0, 0, -j.retention)

	if db.GetDB() != nil {
		rows, err := db.History.DeleteBefore(ctx, cutoff)
		if err != nil {
			return report, fmt.Errorf("failed to prune history: %w", err)
		}
		report.HistoryRows = rows
	}

	pruned, err := j.pruneFailed(cutoff)
	report.FailedJobs = pruned
	if err != nil {
		return report, fmt.Errorf("failed to prune failed jobs: %w", err)
	}
	return report, nil
}

// pruneFailed removes parked jobs that failed before cutoff. The sidecar's
// failure time wins over the file's modification time.
func (j *Janitor) pruneFailed(cutoff time.Time) (int, error) {
	if j.store == nil {
		return 0, nil
	}

	ids, err := j.store.List(queue.StageFailed)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		failedAt, err := j.failedAt(id)
		if err != nil {
			j.log.Warn().Err(err).Str("job_id", id).Msg("cannot date failed job")
			continue
		}
		if !failedAt.Before(cutoff) {
			continue
		}

		if err := j.store.Remove(queue.StageFailed, id); err != nil {
			j.log.Warn().Err(err).Str("job_id", id).Msg("failed to prune job")
			continue
		}
		if err := j.store.RemoveError(id); err != nil {
			j.log.Warn().Err(err).Str("job_id", id).Msg("failed to prune error sidecar")
		}
		pruned++
	}
	return pruned, nil
}

func (j *Janitor) failedAt(id string) (time.Time, error) {
	if info, err := j.store.ReadError(id); err == nil && !info.FailedAt.IsZero() {
		return info.FailedAt, nil
	}
	return j.store.ModTime(queue.StageFailed, id)
}
