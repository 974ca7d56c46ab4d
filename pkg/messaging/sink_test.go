package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bci-monitor/pkg/metrics"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink(testLogger())

	require.NoError(t, sink.Connect())
	assert.False(t, sink.IsConnected())

	assert.NoError(t, sink.PublishConfusionSample(ConfusionRecord{SessionID: "s1"}))
	assert.NoError(t, sink.PublishAdvisoryEvent(AdvisoryRecord{SessionID: "s1"}))
	sink.Disconnect()
}

func TestAMQPSink_ConnectRequiresConfig(t *testing.T) {
	metrics.Init(testLogger())

	sink := NewAMQPSink(testLogger(), AMQPConfig{})
	err := sink.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
	assert.False(t, sink.IsConnected())
}

func TestAMQPSink_PublishWhenDisconnected(t *testing.T) {
	metrics.Init(testLogger())

	sink := NewAMQPSink(testLogger(), AMQPConfig{URL: "amqp://localhost:5672", QueueName: "bci_monitor_records"})
	err := sink.PublishConfusionSample(ConfusionRecord{SessionID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestAMQPSink_RoutingKeyDefaultsToQueue(t *testing.T) {
	sink := NewAMQPSink(testLogger(), AMQPConfig{URL: "amqp://localhost:5672", QueueName: "records"})
	assert.Equal(t, "records", sink.config.RoutingKey)
	assert.True(t, sink.config.Durable)
	assert.False(t, sink.config.AutoDelete)
}

func TestEnvelopeShape(t *testing.T) {
	body, err := json.Marshal(envelope{
		Kind: kindConfusionSample,
		Payload: ConfusionRecord{
			SessionID:      "s1",
			ConfusionLevel: 0.42,
			Trend:          "stable",
			Timestamp:      time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
		},
		Timestamp: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "confusion_sample", decoded["kind"])

	payload, ok := decoded["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "s1", payload["session_id"])
	assert.InDelta(t, 0.42, payload["confusion_level"].(float64), 1e-9)
	assert.Equal(t, "stable", payload["trend"])
	assert.NotContains(t, payload, "signal_quality", "empty maps are omitted")
}
