package queue

import (
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() (*Tracker, *Notifier) {
	n := NewNotifier(zerolog.Nop())
	return NewTracker(n, zerolog.Nop()), n
}

func TestTrackerReconcileMatchesDisk(t *testing.T) {
	s := newTestStore(t)
	tr, _ := newTestTracker()

	for _, id := range []string{"1-a", "2-b", "3-c"} {
		require.NoError(t, s.Write(StagePending, id, map[string]any{}))
	}
	require.NoError(t, s.Write(StageInFlight, "0-z", map[string]any{}))
	require.NoError(t, s.Write(StageFailed, "9-f", map[string]any{}))

	require.NoError(t, tr.Reconcile(s))
	snap := tr.Snapshot()
	assert.Equal(t, 3, snap.Pending)
	assert.Equal(t, 1, snap.Processing)
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, []string{"1-a", "2-b", "3-c"}, tr.PendingIDs())
	assert.Equal(t, []string{"0-z"}, tr.InFlightIDs())

	// Files removed behind the tracker's back disappear on the next reconcile.
	require.NoError(t, os.Remove(s.Path(StagePending, "2-b")))
	require.NoError(t, os.Remove(s.Path(StageInFlight, "0-z")))
	require.NoError(t, tr.Reconcile(s))

	snap = tr.Snapshot()
	assert.Equal(t, 2, snap.Pending)
	assert.Equal(t, 0, snap.Processing)
	assert.Equal(t, 2, snap.Total)
}

type failingLister struct{}

func (failingLister) List(Stage) ([]string, error) {
	return nil, errors.New("disk gone")
}

func TestTrackerReconcileErrorKeepsState(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RegisterEnqueued("1-a")

	err := tr.Reconcile(failingLister{})
	require.Error(t, err)
	assert.Equal(t, []string{"1-a"}, tr.PendingIDs())
}

func TestTrackerLifecycle(t *testing.T) {
	tr, _ := newTestTracker()

	pos, total := tr.RegisterEnqueued("1-a")
	assert.Equal(t, 1, pos)
	assert.Equal(t, 1, total)

	pos, total = tr.RegisterEnqueued("2-b")
	assert.Equal(t, 2, pos)
	assert.Equal(t, 2, total)

	tr.Claim("1-a")
	tr.Claim("1-a")
	assert.Equal(t, Snapshot{Pending: 1, Processing: 1, Total: 2, Enqueued: 2}, tr.Snapshot())

	tr.MarkCompleted("1-a")
	tr.Claim("2-b")
	tr.MarkFailed("2-b", errors.New("paper jam"))

	assert.Equal(t, Snapshot{Completed: 1, Failed: 1, Enqueued: 2}, tr.Snapshot())

	tr.Requeue("2-b")
	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.Pending)
	assert.Equal(t, 2, snap.Enqueued)
}

func TestTrackerNotifiesOutsideLock(t *testing.T) {
	tr, n := newTestTracker()

	var seen []Snapshot
	n.Subscribe(func(Snapshot) {
		// Reading the tracker from a listener would deadlock if the lock
		// were still held.
		seen = append(seen, tr.Snapshot())
	})

	tr.RegisterEnqueued("1-a")
	tr.Claim("1-a")
	tr.MarkCompleted("1-a")

	require.Len(t, seen, 3)
	assert.Equal(t, 1, seen[0].Pending)
	assert.Equal(t, 1, seen[1].Processing)
	assert.Equal(t, 1, seen[2].Completed)
}

// steppingLister serves fixed listings and runs during(stage) before each one
// returns, standing in for work done by other goroutines mid-listing.
type steppingLister struct {
	dirs   map[Stage][]string
	during func(Stage)
}

func (l steppingLister) List(stage Stage) ([]string, error) {
	ids := append([]string(nil), l.dirs[stage]...)
	if l.during != nil {
		l.during(stage)
	}
	return ids, nil
}

func TestTrackerReconcileKeepsJobsRegisteredMidListing(t *testing.T) {
	tr, _ := newTestTracker()

	lister := steppingLister{
		dirs: map[Stage][]string{StagePending: {"1-a"}},
		during: func(stage Stage) {
			if stage == StagePending {
				tr.RegisterEnqueued("2-b")
			}
		},
	}

	require.NoError(t, tr.Reconcile(lister))
	assert.Equal(t, []string{"1-a", "2-b"}, tr.PendingIDs())
	assert.Equal(t, Snapshot{Pending: 2, Total: 2, Enqueued: 1}, tr.Snapshot())
}

func TestTrackerReconcileReplaysClaimsMidListing(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RegisterEnqueued("1-a")

	lister := steppingLister{
		dirs: map[Stage][]string{StagePending: {"1-a"}},
		during: func(stage Stage) {
			if stage == StageInFlight {
				tr.Claim("1-a")
			}
		},
	}

	require.NoError(t, tr.Reconcile(lister))
	assert.Empty(t, tr.PendingIDs())
	assert.Equal(t, []string{"1-a"}, tr.InFlightIDs())
}

func TestTrackerJournalOnlyDuringListing(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RegisterEnqueued("1-a")

	// Registered before the listing started and gone from disk since: the
	// listing wins.
	require.NoError(t, tr.Reconcile(steppingLister{dirs: map[Stage][]string{}}))
	assert.Empty(t, tr.PendingIDs())
}
