package queue

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Snapshot is a point-in-time read of queue occupancy.
type Snapshot struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
	Enqueued   int `json:"enqueued"`
}

type stageLister interface {
	List(stage Stage) ([]string, error)
}

// Tracker mirrors the pending and in-flight directories in memory and owns the
// completed, failed and enqueued counters. The directories stay the source of
// truth; Reconcile overwrites the id lists from a fresh listing.
type Tracker struct {
	mu        sync.Mutex
	pending   []string
	inFlight  []string
	completed int
	failed    int
	enqueued  int

	// journal collects list moves made while Reconcile is reading the
	// directories. They are replayed onto the fresh listing so a job
	// registered mid-listing is not dropped.
	reconcileMu sync.Mutex
	listing     bool
	journal     []listOp

	notifier *Notifier
	log      zerolog.Logger
}

type opKind int

const (
	opPending opKind = iota
	opClaim
	opDone
)

type listOp struct {
	kind opKind
	id   string
}

func NewTracker(notifier *Notifier, logger zerolog.Logger) *Tracker {
	return &Tracker{
		pending:  []string{},
		inFlight: []string{},
		notifier: notifier,
		log:      logger,
	}
}

// Reconcile replaces the pending and in-flight lists with a fresh directory
// listing. Concurrent calls are serialized.
func (t *Tracker) Reconcile(store stageLister) error {
	t.reconcileMu.Lock()
	defer t.reconcileMu.Unlock()

	t.mu.Lock()
	t.listing = true
	t.journal = nil
	t.mu.Unlock()

	pending, inFlight, err := listStages(store)

	t.mu.Lock()
	journal := t.journal
	t.listing = false
	t.journal = nil
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.pending = pending
	t.inFlight = inFlight
	for _, op := range journal {
		t.applyLocked(op)
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notifier.Publish(snap)
	return nil
}

func listStages(store stageLister) (pending, inFlight []string, err error) {
	pending, err = store.List(StagePending)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reconcile pending jobs: %w", err)
	}
	inFlight, err = store.List(StageInFlight)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reconcile in-flight jobs: %w", err)
	}
	return pending, inFlight, nil
}

// applyLocked performs a list move and journals it when a listing is in
// progress. Moves are idempotent, so replaying one the listing already saw is
// harmless.
func (t *Tracker) applyLocked(op listOp) {
	switch op.kind {
	case opPending:
		t.inFlight = without(t.inFlight, op.id)
		t.pending = appendUnique(t.pending, op.id)
	case opClaim:
		t.pending = without(t.pending, op.id)
		t.inFlight = appendUnique(t.inFlight, op.id)
	case opDone:
		t.pending = without(t.pending, op.id)
		t.inFlight = without(t.inFlight, op.id)
	}
}

func (t *Tracker) moveLocked(kind opKind, id string) {
	op := listOp{kind: kind, id: id}
	t.applyLocked(op)
	if t.listing {
		t.journal = append(t.journal, op)
	}
}

// RegisterEnqueued records a newly written job and returns its 1-indexed
// position among pending jobs together with the pending plus in-flight total.
func (t *Tracker) RegisterEnqueued(id string) (position, total int) {
	t.mu.Lock()
	t.moveLocked(opPending, id)
	t.enqueued++
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notifier.Publish(snap)
	return snap.Pending, snap.Total
}

// Requeue puts a job back into the pending list without counting it as a new
// submission.
func (t *Tracker) Requeue(id string) {
	t.mu.Lock()
	t.moveLocked(opPending, id)
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notifier.Publish(snap)
}

func (t *Tracker) Claim(id string) {
	t.mu.Lock()
	t.moveLocked(opClaim, id)
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notifier.Publish(snap)
}

func (t *Tracker) MarkCompleted(id string) {
	t.mu.Lock()
	t.moveLocked(opDone, id)
	t.completed++
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notifier.Publish(snap)
}

func (t *Tracker) MarkFailed(id string, cause error) {
	t.mu.Lock()
	t.moveLocked(opDone, id)
	t.failed++
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.log.Error().Err(cause).Str("job_id", id).Msg("job failed")
	t.notifier.Publish(snap)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) PendingIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.pending...)
}

func (t *Tracker) InFlightIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.inFlight...)
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Pending:    len(t.pending),
		Processing: len(t.inFlight),
		Completed:  t.completed,
		Failed:     t.failed,
		Total:      len(t.pending) + len(t.inFlight),
		Enqueued:   t.enqueued,
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func without(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}
