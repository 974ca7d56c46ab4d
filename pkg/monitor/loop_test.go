package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bci-monitor/pkg/advisory"
	"bci-monitor/pkg/bci"
	"bci-monitor/pkg/confusion"
	apperrors "bci-monitor/pkg/errors"
	"bci-monitor/pkg/features"
	"bci-monitor/pkg/metrics"
	"bci-monitor/pkg/signal"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// recordingBroadcaster captures broadcast calls for assertions.
type recordingBroadcaster struct {
	mu         sync.Mutex
	levels     []float64
	activities int
	advisories []*advisory.Advice
	statuses   []bool
}

func (b *recordingBroadcaster) BroadcastConfusionUpdate(level float64, trend string, threshold float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels = append(b.levels, level)
}

func (b *recordingBroadcaster) BroadcastBrainActivity(bandPowers map[string]float64, quality map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activities++
}

func (b *recordingBroadcaster) BroadcastAdvisory(advice *advisory.Advice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advisories = append(b.advisories, advice)
}

func (b *recordingBroadcaster) BroadcastDeviceStatus(connected bool, info bci.DeviceInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, connected)
}

func (b *recordingBroadcaster) lastLevel() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.levels) == 0 {
		return 0
	}
	return b.levels[len(b.levels)-1]
}

// countingAdvisor counts Generate calls.
type countingAdvisor struct {
	calls int32
}

func (a *countingAdvisor) Generate(_ context.Context, level float64) (*advisory.Advice, error) {
	atomic.AddInt32(&a.calls, 1)
	return &advisory.Advice{
		ID:             "advice-1",
		Suggestions:    []string{"Break this into smaller steps."},
		ConfusionLevel: level,
		Provider:       "stub",
	}, nil
}

func newTestLoop(t *testing.T, profile bci.SignalProfile, advisor advisory.Service, broadcaster Broadcaster) *Loop {
	t.Helper()
	logger := testLogger()
	metrics.Init(logger)

	// Half-second batches fill the conditioner's window after two ticks,
	// so the smoothed level converges within a handful of ticks.
	source := bci.NewSimulatedSource(logger, 128, 64, profile)
	require.NoError(t, source.Connect())

	return NewLoop(
		logger,
		Config{},
		source,
		signal.NewConditioner(logger, signal.Config{SampleRate: 128}),
		features.NewExtractor(logger),
		confusion.NewScorer(logger, 0),
		advisor,
		nil,
		broadcaster,
		NewState(),
	)
}

func runTicks(l *Loop, n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		l.tick(ctx)
	}
}

func TestLoop_CalmSignalStaysBelowThreshold(t *testing.T) {
	advisor := &countingAdvisor{}
	broadcaster := &recordingBroadcaster{}
	l := newTestLoop(t, bci.CalmProfile(), advisor, broadcaster)

	runTicks(l, 15)

	assert.Less(t, broadcaster.lastLevel(), 0.3)
	assert.Equal(t, l.State().ConfusionLevel(), broadcaster.lastLevel())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&advisor.calls), "no dispatch below the threshold")
}

func TestLoop_ConfusedSignalDispatchesOnce(t *testing.T) {
	advisor := &countingAdvisor{}
	broadcaster := &recordingBroadcaster{}
	l := newTestLoop(t, bci.ConfusedProfile(), advisor, broadcaster)

	runTicks(l, 15)

	assert.Greater(t, broadcaster.lastLevel(), 0.7)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&advisor.calls) == 1
	}, 2*time.Second, 10*time.Millisecond, "sustained high confusion dispatches exactly once")

	// More high ticks must not re-arm the dispatch.
	runTicks(l, 10)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&advisor.calls))

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	require.NotEmpty(t, broadcaster.advisories)
	assert.Equal(t, "stub", broadcaster.advisories[0].Provider)
}

func TestLoop_BroadcastsEveryTick(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	l := newTestLoop(t, bci.CalmProfile(), nil, broadcaster)

	runTicks(l, 10)

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	assert.Len(t, broadcaster.levels, 10)
	assert.Equal(t, 10, broadcaster.activities)
}

func TestLoop_StateAndStats(t *testing.T) {
	l := newTestLoop(t, bci.CalmProfile(), nil, nil)

	runTicks(l, 15)

	stats := l.GetStats()
	assert.Equal(t, l.SessionID(), stats.SessionID)
	assert.False(t, stats.Connected, "connect bookkeeping happens in Run")
	assert.Equal(t, DefaultThreshold, stats.Threshold)
	assert.Equal(t, 15, stats.Scoring.Samples)
	assert.True(t, stats.Device.Simulated)
	assert.Equal(t, 128, stats.Device.SampleRate)
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	l := newTestLoop(t, bci.CalmProfile(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancellation")
	}
}

// scriptedSource fails every read with a fixed error.
type scriptedSource struct {
	err          error
	disconnected bool
}

func (s *scriptedSource) Connect() error                  { s.disconnected = false; return nil }
func (s *scriptedSource) Disconnect()                     { s.disconnected = true }
func (s *scriptedSource) GetSample() (*bci.Sample, error) { return nil, s.err }
func (s *scriptedSource) IsConnected() bool               { return !s.disconnected }
func (s *scriptedSource) DeviceInfo() bci.DeviceInfo {
	return bci.DeviceInfo{DeviceType: "scripted", SampleRate: 128}
}

func newScriptedLoop(t *testing.T, source bci.DataSource, broadcaster Broadcaster) *Loop {
	t.Helper()
	logger := testLogger()
	metrics.Init(logger)
	return NewLoop(
		logger,
		Config{},
		source,
		signal.NewConditioner(logger, signal.Config{SampleRate: 128}),
		features.NewExtractor(logger),
		confusion.NewScorer(logger, 0),
		nil,
		nil,
		broadcaster,
		NewState(),
	)
}

func TestLoop_ReadFailureMarksDisconnected(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	source := &scriptedSource{err: errors.New("transport torn down")}
	l := newScriptedLoop(t, source, broadcaster)
	l.State().setConnected(true)

	l.tick(context.Background())

	assert.False(t, l.State().Connected())
	assert.True(t, source.disconnected)

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	require.Len(t, broadcaster.statuses, 1)
	assert.False(t, broadcaster.statuses[0])
	assert.Empty(t, broadcaster.levels, "failed reads are not scored")
}

func TestLoop_MalformedSampleDroppedWithoutDisconnect(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	source := &scriptedSource{err: apperrors.NewInvalidSample("no mapped channels")}
	l := newScriptedLoop(t, source, broadcaster)
	l.State().setConnected(true)

	l.tick(context.Background())

	assert.True(t, l.State().Connected())
	assert.False(t, source.disconnected)

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	assert.Empty(t, broadcaster.statuses)
	assert.Empty(t, broadcaster.levels)
}

func TestState_ThresholdClamping(t *testing.T) {
	s := NewState()
	assert.Equal(t, DefaultThreshold, s.Threshold())

	s.SetThreshold(1.5)
	assert.Equal(t, 1.0, s.Threshold())

	s.SetThreshold(-0.2)
	assert.Equal(t, 0.0, s.Threshold())

	s.SetThreshold(0.42)
	assert.Equal(t, 0.42, s.Threshold())
}
