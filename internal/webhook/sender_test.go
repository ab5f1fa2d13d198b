package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/ticketspool/internal/config"
)

type received struct {
	event     string
	signature string
	body      []byte
}

type endpoint struct {
	mu       sync.Mutex
	requests []received
	status   func(n int) int
	hits     atomic.Int32
}

func newEndpoint(t *testing.T, status func(n int) int) (*endpoint, *httptest.Server) {
	t.Helper()

	e := &endpoint{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := int(e.hits.Add(1))

		e.mu.Lock()
		e.requests = append(e.requests, received{
			event:     r.Header.Get("X-Webhook-Event"),
			signature: r.Header.Get("X-Webhook-Signature"),
			body:      body,
		})
		e.mu.Unlock()

		code := http.StatusOK
		if e.status != nil {
			code = e.status(n)
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return e, srv
}

func (e *endpoint) all() []received {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]received(nil), e.requests...)
}

func fastOptions() Options {
	return Options{RetryCount: 3, RetryDelay: 5 * time.Millisecond, Timeout: time.Second, WorkerCount: 1}
}

func TestSenderDeliversSignedJobEvents(t *testing.T) {
	e, srv := newEndpoint(t, nil)

	s := NewSender([]config.WebhookConfig{{URL: srv.URL, Secret: "s3cret"}}, fastOptions(), zerolog.Nop())
	s.Start()
	defer s.Stop()

	s.JobCompleted(context.Background(), "1700000000000-abc")
	s.JobFailed(context.Background(), "1700000000001-def", "printer offline")

	require.Eventually(t, func() bool { return len(e.all()) == 2 }, 2*time.Second, 10*time.Millisecond)

	byEvent := map[string]received{}
	for _, r := range e.all() {
		byEvent[r.event] = r
	}

	failed, ok := byEvent[string(EventJobFailed)]
	require.True(t, ok)
	assert.Equal(t, Sign(failed.body, "s3cret"), failed.signature)

	var payload struct {
		Event string       `json:"event"`
		Data  JobEventData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(failed.body, &payload))
	assert.Equal(t, "job_failed", payload.Event)
	assert.Equal(t, "1700000000001-def", payload.Data.JobID)
	assert.Equal(t, "printer offline", payload.Data.ErrorMessage)

	_, ok = byEvent[string(EventJobCompleted)]
	assert.True(t, ok)
}

func TestSenderFiltersByEvent(t *testing.T) {
	e, srv := newEndpoint(t, nil)

	s := NewSender([]config.WebhookConfig{{URL: srv.URL, Events: []string{"job_failed"}}}, fastOptions(), zerolog.Nop())
	s.Start()
	defer s.Stop()

	s.JobCompleted(context.Background(), "a")
	s.PrinterStatusChanged(PrinterEventData{Address: "10.0.0.5:9100", Online: false})
	s.JobFailed(context.Background(), "b", "boom")

	require.Eventually(t, func() bool { return len(e.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	got := e.all()
	require.Len(t, got, 1)
	assert.Equal(t, "job_failed", got[0].event)
	assert.Empty(t, got[0].signature)
}

func TestSenderRetriesServerErrors(t *testing.T) {
	e, srv := newEndpoint(t, func(n int) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})

	s := NewSender([]config.WebhookConfig{{URL: srv.URL}}, fastOptions(), zerolog.Nop())
	s.Start()
	defer s.Stop()

	s.PrinterStatusChanged(PrinterEventData{Address: "10.0.0.5:9100", Online: true})

	require.Eventually(t, func() bool { return e.hits.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "printer_online", e.all()[2].event)
}

func TestSenderDoesNotRetryClientErrors(t *testing.T) {
	e, srv := newEndpoint(t, func(int) int { return http.StatusUnauthorized })

	s := NewSender([]config.WebhookConfig{{URL: srv.URL}}, fastOptions(), zerolog.Nop())

	err := s.sendWithRetry(task{endpoint: s.endpoints[0], payload: Payload{Event: "job_completed"}})
	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.Equal(t, int32(1), e.hits.Load())
}

func TestSenderGivesUpAfterRetryCount(t *testing.T) {
	e, srv := newEndpoint(t, func(int) int { return http.StatusInternalServerError })

	s := NewSender([]config.WebhookConfig{{URL: srv.URL}}, fastOptions(), zerolog.Nop())

	err := s.sendWithRetry(task{endpoint: s.endpoints[0], payload: Payload{Event: "job_failed"}})
	require.Error(t, err)
	assert.False(t, IsClientError(err))
	assert.Equal(t, int32(3), e.hits.Load())
}

func TestSenderDropsWhenQueueFull(t *testing.T) {
	opts := fastOptions()
	opts.QueueSize = 1

	s := NewSender([]config.WebhookConfig{{URL: "http://127.0.0.1:1"}}, opts, zerolog.Nop())

	s.JobCompleted(context.Background(), "a")
	s.JobCompleted(context.Background(), "b")
	assert.Len(t, s.queue, 1)
}

func TestSenderStopIsIdempotent(t *testing.T) {
	s := NewSender(nil, fastOptions(), zerolog.Nop())
	s.Start()
	s.Stop()
	s.Stop()
}
