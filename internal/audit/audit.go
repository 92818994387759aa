// Package audit appends platform events to an external topic-keyed log.
//
// Delivery is best-effort and never blocks the request path: events go into
// a bounded queue drained by one background goroutine, and when the queue is
// full the event is dropped and counted. Callers never see audit failures.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/idgen"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
)

// Event is one audit record.
type Event struct {
	ID        string      `json:"id"`
	Topic     string      `json:"topic"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Sink is where drained events land.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// HTTPSink posts events as JSON to an external log service.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSink) Append(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("audit sink returned %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes events to the structured log. Used when no external sink
// is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(ctx context.Context, event Event) error {
	s.logger.Info("audit event",
		"audit_id", event.ID,
		"topic", event.Topic,
		"payload", event.Payload)
	return nil
}

// MultiSink fans one event out to several sinks. Delivery is attempted on
// every sink; the first error is returned.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, event Event) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Emitter is the non-blocking front end to the sink.
type Emitter struct {
	sink   Sink
	queue  chan Event
	logger *slog.Logger
}

// NewEmitter creates an emitter with the given queue capacity.
func NewEmitter(sink Sink, capacity int, logger *slog.Logger) *Emitter {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Emitter{
		sink:   sink,
		queue:  make(chan Event, capacity),
		logger: logger,
	}
}

// Emit enqueues an event. Never blocks: if the queue is full the event is
// dropped, counted, and logged.
func (e *Emitter) Emit(topic string, payload interface{}) {
	event := Event{
		ID:        idgen.WithPrefix("evt_"),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	select {
	case e.queue <- event:
		metrics.AuditQueueDepth.Set(float64(len(e.queue)))
	default:
		metrics.AuditEventsTotal.WithLabelValues("dropped").Inc()
		e.logger.Warn("audit queue full, event dropped", "topic", topic)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what remains.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.flush()
			return
		case event := <-e.queue:
			e.deliver(context.Background(), event)
		}
	}
}

// flush delivers already-queued events with a short deadline.
func (e *Emitter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case event := <-e.queue:
			e.deliver(ctx, event)
		default:
			return
		}
	}
}

func (e *Emitter) deliver(ctx context.Context, event Event) {
	deliverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := e.sink.Append(deliverCtx, event); err != nil {
		metrics.AuditEventsTotal.WithLabelValues("failed").Inc()
		e.logger.Warn("audit delivery failed",
			"topic", event.Topic, "audit_id", event.ID, "error", err)
		return
	}
	metrics.AuditEventsTotal.WithLabelValues("delivered").Inc()
	metrics.AuditQueueDepth.Set(float64(len(e.queue)))
}
