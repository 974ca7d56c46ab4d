package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bci-monitor/pkg/advisory"
	"bci-monitor/pkg/bci"
	"bci-monitor/pkg/confusion"
	apperrors "bci-monitor/pkg/errors"
	"bci-monitor/pkg/features"
	"bci-monitor/pkg/messaging"
	"bci-monitor/pkg/metrics"
	"bci-monitor/pkg/signal"
)

// Broadcaster pushes monitor events to connected websocket clients.
// Implementations must not block the caller.
type Broadcaster interface {
	BroadcastConfusionUpdate(level float64, trend string, threshold float64)
	BroadcastBrainActivity(bandPowers map[string]float64, quality map[string]float64)
	BroadcastAdvisory(advice *advisory.Advice)
	BroadcastDeviceStatus(connected bool, info bci.DeviceInfo)
}

// Config configures the sampling loop.
type Config struct {
	Interval         time.Duration // tick interval, default 100ms
	ReconnectBackoff time.Duration // delay before reconnecting the source
	AdvisoryTimeout  time.Duration // deadline for one advisory dispatch
	MaxInflight      int           // concurrent advisory dispatch cap
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = time.Second
	}
	if c.AdvisoryTimeout <= 0 {
		c.AdvisoryTimeout = 30 * time.Second
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = 1
	}
}

// Loop is the real-time sampling loop. Each tick pulls a sample batch
// from the data source, conditions it, extracts band-power features,
// scores confusion and fans the result out to the websocket hub and the
// record sink. Advice is dispatched when the confusion level crosses the
// threshold from below.
type Loop struct {
	logger      *logrus.Logger
	config      Config
	source      bci.DataSource
	conditioner *signal.Conditioner
	extractor   *features.Extractor
	scorer      *confusion.Scorer
	advisor     advisory.Service
	sink        messaging.RecordSink
	broadcaster Broadcaster
	state       *State
	sessionID   string

	wasAbove bool
	inflight int32
}

// NewLoop creates a sampling loop. The broadcaster, advisor and sink may
// be nil; the corresponding fan-out step is skipped.
func NewLoop(
	logger *logrus.Logger,
	config Config,
	source bci.DataSource,
	conditioner *signal.Conditioner,
	extractor *features.Extractor,
	scorer *confusion.Scorer,
	advisor advisory.Service,
	sink messaging.RecordSink,
	broadcaster Broadcaster,
	state *State,
) *Loop {
	config.applyDefaults()
	if state == nil {
		state = NewState()
	}
	if sink == nil {
		sink = &messaging.NoopSink{}
	}
	return &Loop{
		logger:      logger,
		config:      config,
		source:      source,
		conditioner: conditioner,
		extractor:   extractor,
		scorer:      scorer,
		advisor:     advisor,
		sink:        sink,
		broadcaster: broadcaster,
		state:       state,
		sessionID:   uuid.New().String(),
	}
}

// State returns the shared monitor state.
func (l *Loop) State() *State { return l.state }

// SessionID returns the monitoring session identifier.
func (l *Loop) SessionID() string { return l.sessionID }

// Run drives the sampling loop until the context is cancelled. Source
// failures are retried with a fixed backoff rather than surfaced; the
// loop only exits on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.WithFields(logrus.Fields{
		"session_id": l.sessionID,
		"interval":   l.config.Interval,
	}).Info("Starting sampling loop")

	if err := l.connect(ctx); err != nil {
		return err
	}
	defer func() {
		l.source.Disconnect()
		l.state.setConnected(false)
		metrics.DeviceConnected.Set(0)
	}()

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Sampling loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if !l.source.IsConnected() {
				if err := l.connect(ctx); err != nil {
					return err
				}
				continue
			}
			l.tick(ctx)
		}
	}
}

// connect establishes the data source connection, retrying with backoff
// until it succeeds or the context is cancelled.
func (l *Loop) connect(ctx context.Context) error {
	for {
		err := l.source.Connect()
		if err == nil {
			l.state.setConnected(true)
			metrics.DeviceConnected.Set(1)
			info := l.source.DeviceInfo()
			l.logger.WithFields(logrus.Fields{
				"device":      info.DeviceType,
				"sample_rate": info.SampleRate,
				"channels":    info.ChannelCount,
			}).Info("Data source connected")
			if l.broadcaster != nil {
				l.broadcaster.BroadcastDeviceStatus(true, info)
			}
			return nil
		}

		l.state.setConnected(false)
		metrics.DeviceConnected.Set(0)
		metrics.DeviceReconnects.Inc()
		l.logger.WithError(err).Warn("Data source connection failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.ReconnectBackoff):
		}
	}
}

// tick processes one sample batch end to end.
func (l *Loop) tick(ctx context.Context) {
	done := metrics.ObserveTick()
	defer done()

	sample, err := l.source.GetSample()
	if err != nil {
		if err == bci.ErrNoData {
			metrics.SamplesDropped.WithLabelValues("no_data").Inc()
			return
		}
		if apperrors.IsErrorType(err, apperrors.ErrInvalidSample) {
			l.logger.WithError(err).Debug("Dropping malformed sample")
			metrics.SamplesDropped.WithLabelValues("invalid").Inc()
			return
		}
		l.logger.WithError(err).Warn("Failed to read sample, marking source disconnected")
		l.state.setConnected(false)
		metrics.DeviceConnected.Set(0)
		l.source.Disconnect()
		if l.broadcaster != nil {
			l.broadcaster.BroadcastDeviceStatus(false, l.source.DeviceInfo())
		}
		return
	}

	for channel, values := range sample.Channels {
		l.conditioner.Ingest(channel, values)
	}

	windows := make(map[string][]float64, len(sample.Channels))
	quality := make(map[string]float64, len(sample.Channels))
	for channel := range sample.Channels {
		conditioned, q := l.conditioner.Condition(channel)
		windows[channel] = conditioned
		quality[channel] = q
		metrics.SignalQuality.WithLabelValues(channel).Set(q)
	}

	feats := l.extractor.Extract(windows, sample.SampleRate)
	level := l.scorer.Score(feats)
	trend := string(l.scorer.Trend())

	l.state.setConfusionLevel(level)
	l.state.setTrend(trend)
	metrics.SamplesProcessed.Inc()
	metrics.ConfusionLevel.Set(level)

	if l.broadcaster != nil {
		l.broadcaster.BroadcastConfusionUpdate(level, trend, l.state.Threshold())
		l.broadcaster.BroadcastBrainActivity(feats.Map(), quality)
	}

	l.publishSample(level, trend, quality, feats)
	l.maybeDispatchAdvice(ctx, level)
}

// publishSample sends the scoring record to the sink off the hot path.
func (l *Loop) publishSample(level float64, trend string, quality map[string]float64, feats features.Features) {
	if !l.sink.IsConnected() {
		return
	}
	record := messaging.ConfusionRecord{
		SessionID:      l.sessionID,
		ConfusionLevel: level,
		Trend:          trend,
		SignalQuality:  quality,
		Features:       feats.Map(),
		Timestamp:      time.Now(),
	}
	go func() {
		if err := l.sink.PublishConfusionSample(record); err != nil {
			l.logger.WithError(err).Debug("Failed to publish confusion sample")
		}
	}()
}

// maybeDispatchAdvice fires an advisory dispatch when the level crosses
// the threshold from below. The level has to drop below the threshold
// before another dispatch is armed, so a sustained high level yields one
// dispatch rather than one per tick.
func (l *Loop) maybeDispatchAdvice(ctx context.Context, level float64) {
	threshold := l.state.Threshold()
	above := level >= threshold

	if !above {
		l.wasAbove = false
		return
	}
	if l.wasAbove {
		return
	}
	l.wasAbove = true

	if l.advisor == nil {
		return
	}
	if int(atomic.LoadInt32(&l.inflight)) >= l.config.MaxInflight {
		l.logger.Debug("Advisory dispatch skipped, previous dispatch still in flight")
		metrics.RecordAdvisoryRequest("none", "skipped")
		return
	}
	atomic.AddInt32(&l.inflight, 1)

	go func() {
		defer atomic.AddInt32(&l.inflight, -1)
		done := metrics.ObserveAdvisoryLatency()
		defer done()

		dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.AdvisoryTimeout)
		defer cancel()

		advice, err := l.advisor.Generate(dispatchCtx, level)
		if err != nil || advice == nil {
			l.logger.WithError(err).Warn("Advisory generation failed")
			metrics.RecordAdvisoryRequest("none", "error")
			return
		}
		metrics.RecordAdvisoryRequest(advice.Provider, "ok")

		l.logger.WithFields(logrus.Fields{
			"advice_id":       advice.ID,
			"provider":        advice.Provider,
			"confusion_level": level,
			"suggestions":     len(advice.Suggestions),
		}).Info("Advice dispatched")

		if l.broadcaster != nil {
			l.broadcaster.BroadcastAdvisory(advice)
		}
		if l.sink.IsConnected() {
			record := messaging.AdvisoryRecord{
				SessionID:      l.sessionID,
				AdviceID:       advice.ID,
				ConfusionLevel: level,
				Provider:       advice.Provider,
				Suggestions:    advice.Suggestions,
				Timestamp:      time.Now(),
			}
			if err := l.sink.PublishAdvisoryEvent(record); err != nil {
				l.logger.WithError(err).Debug("Failed to publish advisory event")
			}
		}
	}()
}

// Stats is the aggregate view served by the stats endpoint.
type Stats struct {
	SessionID string          `json:"session_id"`
	Connected bool            `json:"connected"`
	Threshold float64         `json:"threshold"`
	Device    bci.DeviceInfo  `json:"device"`
	Scoring   confusion.Stats `json:"scoring"`
}

// GetStats returns a snapshot of the monitor.
func (l *Loop) GetStats() Stats {
	return Stats{
		SessionID: l.sessionID,
		Connected: l.state.Connected(),
		Threshold: l.state.Threshold(),
		Device:    l.source.DeviceInfo(),
		Scoring:   l.scorer.Stats(),
	}
}
