package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/stepflow/kafka"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/resilience"
)

// writer is the part of kafka-go's Writer the producer uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Stats() kafkago.WriterStats
	Close() error
}

// Producer writes messages to the configured topic. The underlying writer
// is created on first use so the service starts while brokers are down.
type Producer struct {
	cfg    kafka.Config
	retry  resilience.RetryConfig
	log    *logger.Logger
	mu     sync.RWMutex
	writer writer
	closed bool
}

// NewProducer validates cfg and creates a lazily connecting Producer.
func NewProducer(cfg kafka.Config, log *logger.Logger) (*Producer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka producer config: %w", err)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("kafka is disabled")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Producer{
		cfg: cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:    cfg.Retries,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			BackoffFactor:  2,
			Jitter:         0.1,
			RetryIf:        kafka.IsRetryableError,
		},
		log: log.WithComponent("kafka.producer"),
	}, nil
}

// Topic returns the destination topic.
func (p *Producer) Topic() string { return p.cfg.Topic }

func (p *Producer) ensureWriter() (writer, error) {
	p.mu.RLock()
	w, closed := p.writer, p.closed
	p.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("producer is closed")
	}
	if w != nil {
		return w, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		return p.writer, nil
	}
	transport, err := p.cfg.Transport()
	if err != nil {
		return nil, fmt.Errorf("kafka producer transport: %w", err)
	}
	p.writer = &kafkago.Writer{
		Addr:      kafkago.TCP(p.cfg.Brokers...),
		Topic:     p.cfg.Topic,
		Transport: transport,
		// Events of one run share a key and therefore a partition.
		Balancer:     &kafkago.Hash{},
		BatchSize:    p.cfg.BatchSize,
		BatchTimeout: p.cfg.BatchTimeout,
		RequiredAcks: kafkago.RequiredAcks(p.cfg.RequiredAcks),
		Compression:  p.cfg.Codec(),
		WriteTimeout: p.cfg.WriteTimeout,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			p.log.Error("writer: " + fmt.Sprintf(msg, args...))
		}),
	}
	p.log.Info("Kafka producer initialized", logger.Fields(
		"brokers", p.cfg.Brokers,
		"topic", p.cfg.Topic,
		"compression", p.cfg.Compression,
	))
	return p.writer, nil
}

// WriteMessages sends msgs, retrying transient broker errors. The final
// error is translated into an AppError.
func (p *Producer) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w, err := p.ensureWriter()
	if err != nil {
		return err
	}
	cfg := p.retry
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		p.log.Warn("Retrying kafka write", logger.Fields(
			"attempt", attempt,
			"backoff", backoff.String(),
			logger.FieldError, err.Error(),
		))
	}
	if err := resilience.RetryFunc(ctx, cfg, func() error {
		return w.WriteMessages(ctx, msgs...)
	}); err != nil {
		return kafka.FromKafka(err, p.cfg.Topic)
	}
	return nil
}

// Metrics returns writer statistics accumulated since the previous call.
func (p *Producer) Metrics() kafka.WriterMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.writer == nil {
		return kafka.WriterMetrics{Topic: p.cfg.Topic}
	}
	return kafka.Snapshot(p.writer.Stats())
}

// Close shuts down the producer. It is safe to call more than once.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.writer == nil {
		return nil
	}
	p.log.Info("Kafka producer closing")
	return p.writer.Close()
}
