// Package messaging publishes confusion samples and advisory events to an
// external message queue so downstream analytics can consume them without
// holding a websocket open.
package messaging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// ConfusionRecord is the per-tick scoring record published to the queue.
type ConfusionRecord struct {
	SessionID      string             `json:"session_id"`
	ConfusionLevel float64            `json:"confusion_level"`
	Trend          string             `json:"trend"`
	SignalQuality  map[string]float64 `json:"signal_quality,omitempty"`
	Features       map[string]float64 `json:"features,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// AdvisoryRecord is published whenever advice is dispatched.
type AdvisoryRecord struct {
	SessionID      string    `json:"session_id"`
	AdviceID       string    `json:"advice_id"`
	ConfusionLevel float64   `json:"confusion_level"`
	Provider       string    `json:"provider"`
	Suggestions    []string  `json:"suggestions"`
	Timestamp      time.Time `json:"timestamp"`
}

// RecordSink persists monitoring records to an external queue. Publishing
// must never block the sampling loop; implementations enforce their own
// timeouts and the caller invokes them off the hot path.
type RecordSink interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	PublishConfusionSample(record ConfusionRecord) error
	PublishAdvisoryEvent(record AdvisoryRecord) error
}

// NoopSink discards all records. Used when no queue is configured.
type NoopSink struct{}

func NewNoopSink(logger *logrus.Logger) *NoopSink {
	logger.Debug("Message queue not configured, records will not be published")
	return &NoopSink{}
}

func (s *NoopSink) Connect() error    { return nil }
func (s *NoopSink) Disconnect()       {}
func (s *NoopSink) IsConnected() bool { return false }

func (s *NoopSink) PublishConfusionSample(_ ConfusionRecord) error { return nil }
func (s *NoopSink) PublishAdvisoryEvent(_ AdvisoryRecord) error    { return nil }
