package kafka

import (
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// WriterMetrics is one window of producer activity. kafka-go resets its
// counters on every Stats call, so each snapshot covers the time since
// the previous one.
type WriterMetrics struct {
	Topic    string        `json:"topic,omitempty"`
	Writes   int64         `json:"writes"`
	Messages int64         `json:"messages"`
	Bytes    int64         `json:"bytes"`
	Errors   int64         `json:"errors"`
	Retries  int64         `json:"retries"`
	AvgWrite time.Duration `json:"avg_write"`
	MaxWrite time.Duration `json:"max_write"`
}

// Snapshot converts writer stats into a WriterMetrics window.
func Snapshot(s kafkago.WriterStats) WriterMetrics {
	return WriterMetrics{
		Topic:    s.Topic,
		Writes:   s.Writes,
		Messages: s.Messages,
		Bytes:    s.Bytes,
		Errors:   s.Errors,
		Retries:  s.Retries,
		AvgWrite: s.WriteTime.Avg,
		MaxWrite: s.WriteTime.Max,
	}
}

// Degraded is true when a write in the window failed.
func (m WriterMetrics) Degraded() bool { return m.Errors > 0 }

// ErrorRatio is failed writes over attempted writes, zero for an idle window.
func (m WriterMetrics) ErrorRatio() float64 {
	if m.Writes == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Writes)
}

func (m WriterMetrics) String() string {
	return fmt.Sprintf("%d run events, %d write errors, %d retries, avg write %s",
		m.Messages, m.Errors, m.Retries, m.AvgWrite.Round(time.Millisecond))
}
