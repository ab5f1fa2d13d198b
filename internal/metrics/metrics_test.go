package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/ticketspool/internal/queue"
)

func TestObserveSnapshot(t *testing.T) {
	m := New()

	m.ObserveSnapshot(queue.Snapshot{Pending: 3, Processing: 1, Total: 4, Enqueued: 7})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processing))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.enqueued))
}

func TestJobOutcomeCounters(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.JobCompleted(ctx, "a")
	m.JobCompleted(ctx, "b")
	m.JobFailed(ctx, "c", "printer offline")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("failed")))
}

func TestPrinterOnline(t *testing.T) {
	m := New()

	m.SetPrinterOnline(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.online))

	m.SetPrinterOnline(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.online))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveSnapshot(queue.Snapshot{Pending: 2})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ticketspool_queue_pending_jobs 2")
	assert.Contains(t, string(body), `ticketspool_queue_jobs_total{outcome="failed"} 0`)
}
