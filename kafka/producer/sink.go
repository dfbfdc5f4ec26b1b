package producer

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/stepflow/kafka"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/run"
)

// ErrBufferFull is returned by Publish when the send buffer is full.
var ErrBufferFull = stderrors.New("kafka event buffer full")

// Event types carried in the event-type header.
const (
	TypeStepTransition = "stepflow.step.transition"
	TypeRunTransition  = "stepflow.run.transition"
)

// EventSink publishes run events as JSON messages keyed by run id. Publish
// only enqueues; a background loop writes batches so a slow broker does not
// hold up the scheduler.
type EventSink struct {
	producer *Producer
	batch    int
	interval time.Duration
	log      *logger.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan kafkago.Message
	done    chan struct{}
	started atomic.Bool
	dropped atomic.Int64
}

var (
	_ run.Sink        = (*EventSink)(nil)
	_ kafka.Publisher = (*EventSink)(nil)
)

// NewEventSink creates a sink writing through p. The buffer holds ten
// batches.
func NewEventSink(p *Producer, log *logger.Logger) *EventSink {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &EventSink{
		producer: p,
		batch:    p.cfg.BatchSize,
		interval: p.cfg.BatchTimeout,
		log:      log.WithComponent("kafka.sink"),
		queue:    make(chan kafkago.Message, p.cfg.BatchSize*10),
		done:     make(chan struct{}),
	}
}

// Publish enqueues e.
func (s *EventSink) Publish(_ context.Context, e run.Event) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("kafka event sink is closed")
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		s.dropped.Add(1)
		return ErrBufferFull
	}
}

func encode(e run.Event) (kafkago.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	eventType := TypeStepTransition
	if e.RunLevel() {
		eventType = TypeRunTransition
	}
	return kafkago.Message{
		Key:   []byte(e.RunID),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "run-id", Value: []byte(e.RunID)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}

// Start launches the write loop. Later calls are no-ops.
func (s *EventSink) Start(context.Context) error {
	if s.started.CompareAndSwap(false, true) {
		go s.loop()
	}
	return nil
}

func (s *EventSink) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	pending := make([]kafkago.Message, 0, s.batch)
	for {
		select {
		case msg, ok := <-s.queue:
			if !ok {
				s.flush(pending)
				return
			}
			pending = append(pending, msg)
			if len(pending) >= s.batch {
				pending = s.flush(pending)
			}
		case <-ticker.C:
			pending = s.flush(pending)
		}
	}
}

// flush writes pending and returns the emptied slice. Failed batches are
// logged and dropped.
func (s *EventSink) flush(pending []kafkago.Message) []kafkago.Message {
	if len(pending) == 0 {
		return pending
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.producer.cfg.WriteTimeout*time.Duration(s.producer.cfg.Retries))
	defer cancel()
	if err := s.producer.WriteMessages(ctx, pending...); err != nil {
		s.dropped.Add(int64(len(pending)))
		s.log.Error("Dropping run events after failed write", logger.Fields(
			"count", len(pending),
			"topic", s.producer.Topic(),
			logger.FieldError, err.Error(),
		))
	}
	return pending[:0]
}

// Dropped returns the number of events that never reached the broker.
func (s *EventSink) Dropped() int64 { return s.dropped.Load() }

// Metrics reports producer statistics.
func (s *EventSink) Metrics() kafka.WriterMetrics { return s.producer.Metrics() }

// Close stops accepting events, flushes the buffer and closes the producer.
func (s *EventSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	if s.started.Load() {
		<-s.done
	}
	return s.producer.Close()
}
