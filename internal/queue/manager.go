package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/config"
)

// Renderer turns a job payload into printed output. Implementations must not
// mutate the payload and should return once ctx is done.
type Renderer interface {
	RenderJob(ctx context.Context, payload map[string]any) error
}

// Readiness is implemented by renderers that can tell up front that nothing
// would print, for example because no printer is configured. While Ready
// returns an error, Drain leaves pending jobs where they are.
type Readiness interface {
	Ready() error
}

// ErrNoRenderer is reported by Drain on a manager built without a renderer.
var ErrNoRenderer = errors.New("no renderer configured")

// Callbacks are told about job outcomes. They are best effort: the queue does
// not look at what they do.
type Callbacks interface {
	JobCompleted(ctx context.Context, jobID string)
	JobFailed(ctx context.Context, jobID string, errMsg string)
}

type EnqueueResult struct {
	Success  bool   `json:"success"`
	JobID    string `json:"jobId"`
	Position int    `json:"position,omitempty"`
	Total    int    `json:"total,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DrainReport summarizes one drain invocation.
type DrainReport struct {
	Listed    int
	Completed int
	Failed    int
	Skipped   bool
	// NotReady holds the renderer's Ready error; nothing was claimed.
	NotReady error
}

type FailedJob struct {
	ID       string    `json:"id"`
	Error    string    `json:"error,omitempty"`
	FailedAt time.Time `json:"failedAt,omitempty"`
}

type Manager struct {
	store     *Store
	tracker   *Tracker
	notifier  *Notifier
	renderer  Renderer
	callbacks []Callbacks
	config    *config.QueueConfig
	log       zerolog.Logger

	draining  atomic.Bool
	notReady  atomic.Bool
	triggerCh chan struct{}
}

func NewManager(store *Store, renderer Renderer, cfg *config.QueueConfig, logger zerolog.Logger, callbacks ...Callbacks) *Manager {
	if cfg == nil {
		cfg = &config.Defaults().Queue
	}

	notifier := NewNotifier(logger)

	return &Manager{
		store:     store,
		tracker:   NewTracker(notifier, logger),
		notifier:  notifier,
		renderer:  renderer,
		callbacks: callbacks,
		config:    cfg,
		log:       logger,
		triggerCh: make(chan struct{}, 1),
	}
}

func (m *Manager) Store() *Store {
	return m.store
}

func (m *Manager) Snapshot() Snapshot {
	return m.tracker.Snapshot()
}

func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	return m.notifier.Subscribe(fn)
}

func (m *Manager) Reconcile() error {
	return m.tracker.Reconcile(m.store)
}

// Enqueue writes the job to the pending stage and registers it. Nothing is
// registered when the write fails.
func (m *Manager) Enqueue(ctx context.Context, id string, payload map[string]any) (EnqueueResult, error) {
	if err := ctx.Err(); err != nil {
		return EnqueueResult{Success: false, JobID: id, Error: err.Error()}, err
	}

	if err := ValidateID(id); err != nil {
		return EnqueueResult{Success: false, JobID: id, Error: err.Error()}, err
	}

	if err := m.store.Write(StagePending, id, payload); err != nil {
		m.log.Error().Err(err).Str("job_id", id).Msg("failed to enqueue job")
		return EnqueueResult{Success: false, JobID: id, Error: err.Error()}, fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}

	position, total := m.tracker.RegisterEnqueued(id)
	m.log.Info().Str("job_id", id).Int("position", position).Int("total", total).Msg("job enqueued")

	return EnqueueResult{
		Success:  true,
		JobID:    id,
		Position: position,
		Total:    total,
	}, nil
}

// Trigger asks Run for an immediate drain. Repeated triggers coalesce.
func (m *Manager) Trigger() {
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

// Drain processes every job listed in the pending stage at the start of the
// call, one at a time in id order. Jobs enqueued meanwhile wait for the next
// call. If another drain is running the call returns at once with Skipped set.
func (m *Manager) Drain(ctx context.Context) (DrainReport, error) {
	if !m.draining.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}, nil
	}
	defer m.draining.Store(false)

	if err := m.rendererReady(); err != nil {
		if m.notReady.CompareAndSwap(false, true) {
			m.log.Warn().Err(err).Msg("renderer not ready, leaving jobs pending")
		}
		return DrainReport{NotReady: err}, nil
	}
	if m.notReady.CompareAndSwap(true, false) {
		m.log.Info().Msg("renderer ready, resuming drain")
	}

	ids, err := m.store.List(StagePending)
	if err != nil {
		return DrainReport{}, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	report := DrainReport{Listed: len(ids)}
	if len(ids) == 0 {
		return report, nil
	}

	m.log.Debug().Int("jobs", len(ids)).Msg("draining queue")

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := m.store.Move(id, StagePending, StageInFlight); err != nil {
			if errors.Is(err, ErrJobNotFound) {
				m.log.Debug().Str("job_id", id).Msg("job no longer claimable")
			} else {
				m.log.Warn().Err(err).Str("job_id", id).Msg("failed to claim job")
			}
			continue
		}
		m.tracker.Claim(id)

		if err := m.processJob(ctx, id); err != nil {
			m.handleJobFailure(ctx, id, err)
			report.Failed++
			continue
		}

		m.handleJobSuccess(ctx, id)
		report.Completed++

		if i < len(ids)-1 {
			if err := sleepCtx(ctx, m.config.InterJobDelay); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func (m *Manager) rendererReady() error {
	if m.renderer == nil {
		return ErrNoRenderer
	}
	if r, ok := m.renderer.(Readiness); ok {
		return r.Ready()
	}
	return nil
}

func (m *Manager) processJob(ctx context.Context, id string) error {
	payload, err := m.store.Read(StageInFlight, id)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	// A claimed job is finished even when ctx is cancelled; only the render
	// timeout cuts it short.
	renderCtx := context.WithoutCancel(ctx)
	if m.config.RenderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(renderCtx, m.config.RenderTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("renderer panicked: %v", r)
			}
		}()
		done <- m.renderer.RenderJob(renderCtx, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-renderCtx.Done():
		if errors.Is(renderCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("render timed out after %s", m.config.RenderTimeout)
		}
		return fmt.Errorf("render interrupted: %w", renderCtx.Err())
	}
}

func (m *Manager) handleJobSuccess(ctx context.Context, id string) {
	if err := m.store.Remove(StageInFlight, id); err != nil {
		m.log.Error().Err(err).Str("job_id", id).Msg("failed to remove completed job file")
	}
	m.tracker.MarkCompleted(id)
	m.log.Info().Str("job_id", id).Msg("job completed")

	for _, cb := range m.callbacks {
		m.safeCallback(func() { cb.JobCompleted(ctx, id) })
	}
}

func (m *Manager) handleJobFailure(ctx context.Context, id string, cause error) {
	m.tracker.MarkFailed(id, cause)

	for _, cb := range m.callbacks {
		m.safeCallback(func() { cb.JobFailed(ctx, id, cause.Error()) })
	}

	m.park(id, cause)
}

// park moves an in-flight job to the failed stage with an error sidecar.
func (m *Manager) park(id string, cause error) {
	if err := m.store.Move(id, StageInFlight, StageFailed); err != nil {
		m.log.Error().Err(err).Str("job_id", id).Msg("failed job could not be moved to failed stage, job file lost")
		return
	}

	info := ErrorInfo{JobID: id, Error: cause.Error(), FailedAt: time.Now().UTC()}
	if err := m.store.WriteError(info); err != nil {
		m.log.Warn().Err(err).Str("job_id", id).Msg("failed to write error sidecar")
	}
}

func (m *Manager) safeCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("job callback panicked")
		}
	}()
	fn()
}

// Recover applies the configured policy to jobs left in the in-flight stage by
// an unclean shutdown and then reconciles the tracker. It must run before the
// first drain.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if err := m.Reconcile(); err != nil {
		return 0, err
	}

	ids := m.tracker.InFlightIDs()
	if len(ids) == 0 {
		return 0, nil
	}

	policy := m.config.RecoveryPolicy
	if policy == config.RecoveryLeave {
		m.log.Warn().Int("jobs", len(ids)).Msg("leaving interrupted jobs in the in-flight stage")
		return 0, nil
	}

	recovered := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}

		switch policy {
		case config.RecoveryFail:
			m.handleJobFailure(ctx, id, errors.New("interrupted by restart"))
		default:
			if err := m.store.Move(id, StageInFlight, StagePending); err != nil {
				m.log.Error().Err(err).Str("job_id", id).Msg("failed to requeue interrupted job")
				continue
			}
			m.tracker.Requeue(id)
		}
		recovered++
	}

	m.log.Info().Int("jobs", recovered).Str("policy", policy).Msg("recovered interrupted jobs")
	return recovered, nil
}

func (m *Manager) ListFailed() ([]FailedJob, error) {
	ids, err := m.store.List(StageFailed)
	if err != nil {
		return nil, err
	}

	jobs := make([]FailedJob, 0, len(ids))
	for _, id := range ids {
		job := FailedJob{ID: id}
		if info, err := m.store.ReadError(id); err == nil {
			job.Error = info.Error
			job.FailedAt = info.FailedAt
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryFailed moves a parked job back to the pending stage.
func (m *Manager) RetryFailed(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.store.Move(id, StageFailed, StagePending); err != nil {
		return err
	}
	if err := m.store.RemoveError(id); err != nil {
		m.log.Warn().Err(err).Str("job_id", id).Msg("failed to remove error sidecar")
	}

	m.tracker.Requeue(id)
	m.log.Info().Str("job_id", id).Msg("failed job requeued")
	return nil
}

func (m *Manager) PurgeFailed(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if !m.store.Exists(StageFailed, id) {
		return ErrJobNotFound
	}

	if err := m.store.Remove(StageFailed, id); err != nil {
		return err
	}
	return m.store.RemoveError(id)
}

// Run drains on every tick of the drain interval and on Trigger until ctx is
// done. Reconcile runs on its own goroutine so a long batch does not hold it
// back.
func (m *Manager) Run(ctx context.Context) error {
	drainTicker := time.NewTicker(m.config.DrainInterval)
	defer drainTicker.Stop()

	m.log.Info().
		Dur("drain_interval", m.config.DrainInterval).
		Dur("reconcile_interval", m.config.ReconcileInterval).
		Msg("queue loop started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.reconcileLoop(ctx)
	}()
	defer wg.Wait()

	m.drainAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("queue loop stopped")
			return nil
		case <-drainTicker.C:
			m.drainAndLog(ctx)
		case <-m.triggerCh:
			m.drainAndLog(ctx)
		}
	}
}

func (m *Manager) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reconcile(); err != nil {
				m.log.Warn().Err(err).Msg("reconcile failed")
			}
		}
	}
}

func (m *Manager) drainAndLog(ctx context.Context) {
	report, err := m.Drain(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.log.Error().Err(err).Msg("drain aborted")
		}
		return
	}
	if report.Completed > 0 || report.Failed > 0 {
		m.log.Info().
			Int("listed", report.Listed).
			Int("completed", report.Completed).
			Int("failed", report.Failed).
			Msg("drain finished")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
