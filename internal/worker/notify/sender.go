// Package notifyworker delivers pending notification events over HTTP.
// It is the consumer side of the dispatcher's durable queue: poll for
// pending rows, POST each payload to its target, transition the row once.
package notifyworker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nexacrm/leadflow/internal/observability/metrics"
	"github.com/nexacrm/leadflow/internal/store"
)

type eventStore interface {
	FetchPendingEvents(ctx context.Context, limit int32) ([]store.PendingEvent, error)
	MarkEventSent(ctx context.Context, id uuid.UUID) (bool, error)
	MarkEventFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

// Sender drains the pending-event queue. At-least-once: a crash between
// POST and MarkEventSent re-delivers on the next pass.
type Sender struct {
	store   eventStore
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics

	interval    time.Duration
	batchSize   int32
	maxAttempts int
	baseDelay   time.Duration

	nudge chan struct{}
}

func NewSender(s eventStore, m *metrics.PipelineMetrics, logger *slog.Logger) *Sender {
	return &Sender{
		store:       s,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		metrics:     m,
		interval:    5 * time.Second,
		batchSize:   25,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		nudge:       make(chan struct{}, 1),
	}
}

func (s *Sender) WithInterval(d time.Duration) *Sender {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sender) WithBatchSize(n int) *Sender {
	if n > 0 {
		s.batchSize = int32(n)
	}
	return s
}

func (s *Sender) WithMaxAttempts(n int) *Sender {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

// Nudge triggers an immediate drain pass. Safe from any goroutine; extra
// nudges while one is queued are dropped.
func (s *Sender) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Run drains on a ticker and on nudges until the context ends.
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		case <-s.nudge:
			s.drain(ctx)
		}
	}
}

func (s *Sender) drain(ctx context.Context) {
	events, err := s.store.FetchPendingEvents(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("fetch pending events failed", "error", err)
		return
	}

	for _, evt := range events {
		if ctx.Err() != nil {
			return
		}
		if err := s.deliver(ctx, evt); err != nil {
			s.logger.Error("delivery failed", "event_id", evt.ID, "event_type", evt.EventType, "error", err)
			if _, err := s.store.MarkEventFailed(ctx, evt.ID); err != nil {
				s.logger.Error("mark failed errored", "event_id", evt.ID, "error", err)
			}
			s.metrics.ObserveEvent(evt.EventType, "failed")
			continue
		}
		ok, err := s.store.MarkEventSent(ctx, evt.ID)
		if err != nil {
			s.logger.Error("mark sent errored", "event_id", evt.ID, "error", err)
			continue
		}
		if !ok {
			// Another worker transitioned the row first; the duplicate POST
			// is covered by the at-least-once contract.
			s.logger.Warn("event already transitioned", "event_id", evt.ID)
			continue
		}
		s.metrics.ObserveEvent(evt.EventType, "sent")
		s.logger.Info("event delivered", "event_id", evt.ID, "event_type", evt.EventType)
	}
}

// deliver POSTs the payload with bounded inline retries.
func (s *Sender) deliver(ctx context.Context, evt store.PendingEvent) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.baseDelay * time.Duration(1<<(attempt-2))):
			}
		}
		lastErr = s.post(ctx, evt)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("delivery attempt failed",
			"event_id", evt.ID,
			"attempt", attempt,
			"error", lastErr,
		)
	}
	return fmt.Errorf("after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Sender) post(ctx context.Context, evt store.PendingEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, evt.TargetURL, bytes.NewReader(evt.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", evt.EventType)
	req.Header.Set("X-Event-ID", evt.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("target returned %d", resp.StatusCode)
	}
	return nil
}
