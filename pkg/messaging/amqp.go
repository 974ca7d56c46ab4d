package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"bci-monitor/pkg/metrics"
)

// envelope wraps every record so a single queue can carry both kinds.
type envelope struct {
	Kind      string      `json:"kind"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	kindConfusionSample = "confusion_sample"
	kindAdvisoryEvent   = "advisory_event"
)

// AMQPConfig holds AMQP sink configuration.
type AMQPConfig struct {
	URL          string
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Durable      bool
	AutoDelete   bool
}

// AMQPSink publishes monitoring records to a RabbitMQ queue. The
// connection is monitored and re-established with exponential backoff
// when the broker closes it.
type AMQPSink struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPSink creates a new AMQP record sink.
func NewAMQPSink(logger *logrus.Logger, config AMQPConfig) *AMQPSink {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	config.Durable = true
	config.AutoDelete = false

	return &AMQPSink{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server and declares the
// record queue.
func (s *AMQPSink) Connect() error {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()

	if s.connected {
		return nil
	}

	if s.config.URL == "" || s.config.QueueName == "" {
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(s.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		metrics.AMQPConnectionErrors.WithLabelValues("timeout").Inc()
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}

	if err != nil {
		metrics.AMQPConnectionErrors.WithLabelValues("dial").Inc()
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	s.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		metrics.AMQPConnectionErrors.WithLabelValues("channel").Inc()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	s.channel = channel

	_, err = channel.QueueDeclare(
		s.config.QueueName,
		s.config.Durable,
		s.config.AutoDelete,
		false, // Exclusive
		false, // No-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		metrics.AMQPConnectionErrors.WithLabelValues("declare").Inc()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	s.connected = true
	metrics.AMQPConnectionStatus.Set(1)
	s.logger.WithFields(logrus.Fields{
		"url":   s.config.URL,
		"queue": s.config.QueueName,
	}).Info("Connected to AMQP server")

	// New stop channel in case this is a reconnect
	s.stopChan = make(chan struct{})
	go s.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection.
func (s *AMQPSink) Disconnect() {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()

	if !s.connected {
		return
	}

	close(s.stopChan)

	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}

	s.connected = false
	metrics.AMQPConnectionStatus.Set(0)
	s.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status.
func (s *AMQPSink) IsConnected() bool {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return s.connected
}

// PublishConfusionSample publishes a scoring record.
func (s *AMQPSink) PublishConfusionSample(record ConfusionRecord) error {
	return s.publish(kindConfusionSample, record)
}

// PublishAdvisoryEvent publishes an advisory dispatch record.
func (s *AMQPSink) PublishAdvisoryEvent(record AdvisoryRecord) error {
	return s.publish(kindAdvisoryEvent, record)
}

func (s *AMQPSink) publish(kind string, payload interface{}) error {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"kind":    kind,
				"recover": r,
			}).Error("Recovered from panic in AMQP publish")
		}
	}()

	if !s.IsConnected() {
		return fmt.Errorf("not connected to AMQP server")
	}

	body, err := json.Marshal(envelope{
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", kind, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		s.connMutex.RLock()
		defer s.connMutex.RUnlock()

		if !s.connected || s.channel == nil {
			select {
			case <-ctx.Done():
			case publishChan <- fmt.Errorf("lost AMQP connection before publishing"):
			}
			return
		}

		err := s.channel.Publish(
			s.config.ExchangeName,
			s.config.RoutingKey,
			false, // Mandatory
			false, // Immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				// Expire stale records instead of letting the queue grow
				// when no consumer is attached.
				Expiration: "43200000", // 12 hours in milliseconds
			},
		)

		select {
		case <-ctx.Done():
		case publishChan <- err:
		}
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			metrics.AMQPPublishErrors.WithLabelValues(kind).Inc()
			return fmt.Errorf("failed to publish %s to AMQP: %w", kind, err)
		}
	case <-ctx.Done():
		metrics.AMQPPublishErrors.WithLabelValues(kind).Inc()
		return fmt.Errorf("publishing to AMQP timed out after 200ms")
	}

	metrics.AMQPPublishedMessages.WithLabelValues(kind).Inc()
	s.logger.WithField("kind", kind).Debug("Published record to AMQP")
	return nil
}

// monitorConnection watches for the broker closing the connection and
// reconnects with exponential backoff.
func (s *AMQPSink) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	s.connMutex.RLock()
	if s.conn != nil {
		s.conn.NotifyClose(closeChan)
	}
	s.connMutex.RUnlock()

	for {
		select {
		case <-s.stopChan:
			return
		case closeErr := <-closeChan:
			s.connMutex.Lock()
			s.connected = false
			s.connMutex.Unlock()
			metrics.AMQPConnectionStatus.Set(0)

			s.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= 10; attempt++ {
				metrics.AMQPReconnectAttempts.Inc()

				err := s.Connect()
				if err == nil {
					s.logger.Info("Successfully reconnected to AMQP server")
					return
				}

				s.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

				backoff := time.Duration(1<<uint(attempt-1)) * time.Second
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				time.Sleep(backoff)
			}
			return
		}
	}
}
