// Package confusion maintains the confusion-level state machine: baseline
// calibration, score smoothing and trend classification.
package confusion

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"bci-monitor/pkg/features"
)

// Trend classifies the recent direction of the confusion history.
type Trend string

const (
	TrendInsufficientData Trend = "insufficient_data"
	TrendIncreasing       Trend = "increasing"
	TrendDecreasing       Trend = "decreasing"
	TrendStable           Trend = "stable"
)

const (
	// DefaultWindowSize bounds the score history used for smoothing and
	// trend analysis.
	DefaultWindowSize = 50

	// calibrationSamples is the number of scored samples required before
	// the baseline is established. The transition is one-way.
	calibrationSamples = 10

	// smoothingAlpha weights the raw score against the previous one.
	smoothingAlpha = 0.3

	// trendWindow and trendSlopeThreshold drive trend classification.
	trendWindow         = 5
	trendSlopeThreshold = 0.02
)

// Resting-state reference fractions of total band power. Band powers are
// normalized to fractions before scoring, so the references are
// independent of the absolute PSD scale (microvolts squared per Hz).
const (
	restingThetaFraction = 0.25
	restingAlphaFraction = 0.40
	restingBetaFraction  = 0.10
)

// Stats is a snapshot of scorer state for status endpoints and records.
type Stats struct {
	Current    float64 `json:"current_level"`
	Mean       float64 `json:"average_level"`
	Max        float64 `json:"max_level"`
	Samples    int     `json:"samples"`
	Calibrated bool    `json:"baseline_established"`
	Trend      Trend   `json:"trend"`
}

// Scorer combines band-power features with a calibrated baseline into a
// smoothed confusion level in [0,1]. State is owned by the sampling
// pipeline; the mutex only covers concurrent readers on the HTTP path.
type Scorer struct {
	logger     *logrus.Logger
	windowSize int

	mu            sync.Mutex
	history       []float64
	calibrated    bool
	baselineTheta float64
	baselineAlpha float64
	baselineBeta  float64
}

// NewScorer creates a scorer with the given history window size
// (DefaultWindowSize when <= 0).
func NewScorer(logger *logrus.Logger, windowSize int) *Scorer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Scorer{
		logger:        logger,
		windowSize:    windowSize,
		baselineTheta: restingThetaFraction,
		baselineAlpha: restingAlphaFraction,
		baselineBeta:  restingBetaFraction,
	}
}

// Score converts features into a confusion level. Any degenerate input
// (NaN or infinite features) yields the fail-safe level 0 for that tick.
// The result is always within [0,1].
func (s *Scorer) Score(f features.Features) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.calibrated && len(s.history) > calibrationSamples {
		s.establishBaseline()
	}

	raw := s.rawScore(f)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		s.logger.WithField("features", f).Warn("Degenerate feature input, scoring 0")
		raw = 0
	}

	smoothed := raw
	if len(s.history) > 0 {
		previous := s.history[len(s.history)-1]
		smoothed = smoothingAlpha*raw + (1-smoothingAlpha)*previous
	}
	smoothed = clamp01(smoothed)

	s.history = append(s.history, smoothed)
	if len(s.history) > s.windowSize {
		s.history = s.history[1:]
	}
	return smoothed
}

// rawScore is the weighted combination of the confusion indicators:
// increased theta (mental effort), decreased alpha (less relaxed),
// increased beta and the overall cognitive-load index. Band powers are
// first normalized to fractions of the total band power, then each
// fraction is normalized against its resting reference, capped at 2x and
// clamped non-negative before weighting.
func (s *Scorer) rawScore(f features.Features) float64 {
	total := f.ThetaPower + f.AlphaPower + f.BetaPower + f.GammaPower
	if total <= 0 {
		return 0
	}

	thetaScore := math.Min(f.ThetaPower/total/s.baselineTheta, 2.0) - 1.0
	alphaScore := 1.0 - math.Min(f.AlphaPower/total/s.baselineAlpha, 2.0)
	betaScore := math.Min(f.BetaPower/total/s.baselineBeta, 2.0) - 1.0
	cognitiveLoad := math.Min(f.CognitiveLoadIndex/2.0, 1.0)

	return 0.3*math.Max(thetaScore, 0) +
		0.3*math.Max(alphaScore, 0) +
		0.2*math.Max(betaScore, 0) +
		0.2*cognitiveLoad
}

// establishBaseline performs the one-way Uncalibrated -> Calibrated
// transition. The reference fractions stay at the resting constants; see
// DESIGN.md for why they are not derived from the pre-calibration window.
func (s *Scorer) establishBaseline() {
	s.baselineTheta = restingThetaFraction
	s.baselineAlpha = restingAlphaFraction
	s.baselineBeta = restingBetaFraction
	s.calibrated = true
	s.logger.Info("Confusion baseline established")
}

// Trend classifies the slope of a least-squares fit over the last five
// scores.
func (s *Scorer) Trend() Trend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trendLocked()
}

func (s *Scorer) trendLocked() Trend {
	if len(s.history) < trendWindow {
		return TrendInsufficientData
	}
	recent := s.history[len(s.history)-trendWindow:]
	xs := make([]float64, trendWindow)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, recent, nil, false)

	switch {
	case slope > trendSlopeThreshold:
		return TrendIncreasing
	case slope < -trendSlopeThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// Calibrated reports whether the baseline has been established.
func (s *Scorer) Calibrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrated
}

// Current returns the most recent smoothed level, or 0 before the first
// score.
func (s *Scorer) Current() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return 0
	}
	return s.history[len(s.history)-1]
}

// Stats returns a summary of the scoring history.
func (s *Scorer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Samples:    len(s.history),
		Calibrated: s.calibrated,
		Trend:      s.trendLocked(),
	}
	if len(s.history) == 0 {
		return st
	}
	st.Current = s.history[len(s.history)-1]
	st.Mean = stat.Mean(s.history, nil)
	for _, v := range s.history {
		st.Max = math.Max(st.Max, v)
	}
	return st
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
