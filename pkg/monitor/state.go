// Package monitor runs the real-time sampling loop that turns raw EEG
// samples into a confusion level and drives the downstream consumers.
package monitor

import (
	"math"
	"sync/atomic"
)

// DefaultThreshold is the confusion level above which advice is
// dispatched, until a client overrides it.
const DefaultThreshold = 0.7

// State is the shared, concurrently-read view of the monitor. The
// sampling loop is the single writer for the confusion level and trend;
// websocket clients may update the threshold at any time.
type State struct {
	thresholdBits uint64 // atomic, float64 bits
	levelBits     uint64 // atomic, float64 bits
	trend         atomic.Value
	connected     atomic.Bool
}

// NewState creates monitor state with the default threshold.
func NewState() *State {
	s := &State{}
	s.SetThreshold(DefaultThreshold)
	s.trend.Store("insufficient_data")
	return s
}

// Threshold returns the current advisory threshold.
func (s *State) Threshold() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.thresholdBits))
}

// SetThreshold updates the advisory threshold, clamped to [0, 1].
func (s *State) SetThreshold(threshold float64) {
	if math.IsNaN(threshold) {
		return
	}
	if threshold < 0 {
		threshold = 0
	} else if threshold > 1 {
		threshold = 1
	}
	atomic.StoreUint64(&s.thresholdBits, math.Float64bits(threshold))
}

// ConfusionLevel returns the last smoothed confusion level.
func (s *State) ConfusionLevel() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.levelBits))
}

func (s *State) setConfusionLevel(level float64) {
	atomic.StoreUint64(&s.levelBits, math.Float64bits(level))
}

// Trend returns the last computed confusion trend.
func (s *State) Trend() string {
	return s.trend.Load().(string)
}

func (s *State) setTrend(trend string) {
	s.trend.Store(trend)
}

// Connected reports whether the data source is currently connected.
func (s *State) Connected() bool {
	return s.connected.Load()
}

func (s *State) setConnected(connected bool) {
	s.connected.Store(connected)
}
