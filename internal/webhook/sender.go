package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/config"
)

type Event string

const (
	EventJobCompleted   Event = "job_completed"
	EventJobFailed      Event = "job_failed"
	EventPrinterOffline Event = "printer_offline"
	EventPrinterOnline  Event = "printer_online"
)

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type JobEventData struct {
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error,omitempty"`
}

type PrinterEventData struct {
	Address  string   `json:"address"`
	Online   bool     `json:"online"`
	Problems []string `json:"problems,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type Options struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	endpoint config.WebhookConfig
	payload  Payload
}

// Sender posts signed event notifications to the configured endpoints. It
// satisfies queue.Callbacks.
type Sender struct {
	endpoints  []config.WebhookConfig
	httpClient *http.Client
	opts       Options
	log        zerolog.Logger

	queue  chan task
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewSender(endpoints []config.WebhookConfig, opts Options, logger zerolog.Logger) *Sender {
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}

	return &Sender{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		log:        logger,
		queue:      make(chan task, opts.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.opts.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop discards undelivered events and waits for the workers to exit.
func (s *Sender) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sender) JobCompleted(_ context.Context, jobID string) {
	s.enqueue(EventJobCompleted, JobEventData{JobID: jobID, Status: "completed"})
}

func (s *Sender) JobFailed(_ context.Context, jobID string, errMsg string) {
	s.enqueue(EventJobFailed, JobEventData{JobID: jobID, Status: "failed", ErrorMessage: errMsg})
}

// PrinterStatusChanged reports a transition between reachable and
// unreachable.
func (s *Sender) PrinterStatusChanged(data PrinterEventData) {
	event := EventPrinterOffline
	if data.Online {
		event = EventPrinterOnline
	}
	s.enqueue(event, data)
}

func (s *Sender) enqueue(event Event, data any) {
	for _, endpoint := range s.endpoints {
		if !subscribed(endpoint, event) {
			continue
		}

		t := task{
			endpoint: endpoint,
			payload: Payload{
				Event:     string(event),
				Timestamp: time.Now().UTC(),
				Data:      data,
			},
		}

		select {
		case s.queue <- t:
		default:
			s.log.Warn().Str("url", endpoint.URL).Str("event", string(event)).Msg("webhook queue full, dropping event")
		}
	}
}

// subscribed reports whether endpoint wants event. No event list means all.
func subscribed(endpoint config.WebhookConfig, event Event) bool {
	if len(endpoint.Events) == 0 {
		return true
	}
	for _, e := range endpoint.Events {
		if e == string(event) || e == "*" {
			return true
		}
	}
	return false
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				s.log.Error().Err(err).
					Int("worker", id).
					Str("url", t.endpoint.URL).
					Str("event", t.payload.Event).
					Msg("webhook delivery failed")
			}
		}
	}
}

func (s *Sender) sendWithRetry(t task) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.RetryCount-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return s.send(ctx, t.endpoint, t.payload)
	}, policy, func(err error, wait time.Duration) {
		s.log.Debug().Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Str("url", t.endpoint.URL).
			Msg("retrying webhook")
	})
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func (s *Sender) send(ctx context.Context, endpoint config.WebhookConfig, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if endpoint.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, endpoint.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := &statusError{code: resp.StatusCode}
		if resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// IsClientError reports whether err is a 4xx response.
func IsClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
