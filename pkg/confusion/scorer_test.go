package confusion

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"bci-monitor/pkg/features"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func calmFeatures() features.Features {
	// Strong alpha, weak theta and beta: a relaxed signal.
	return features.Features{
		ThetaPower:         0.2,
		AlphaPower:         5.0,
		BetaPower:          0.1,
		ThetaAlphaRatio:    0.04,
		BetaAlphaRatio:     0.02,
		CognitiveLoadIndex: 0.06,
	}
}

func confusedFeatures() features.Features {
	// Elevated theta and beta against a collapsed alpha band.
	return features.Features{
		ThetaPower:         8.0,
		AlphaPower:         0.01,
		BetaPower:          6.0,
		ThetaAlphaRatio:    800,
		BetaAlphaRatio:     600,
		CognitiveLoadIndex: 1400,
	}
}

func TestScore_AlwaysInUnitInterval(t *testing.T) {
	s := NewScorer(testLogger(), 0)

	for i := 0; i < 30; i++ {
		level := s.Score(confusedFeatures())
		assert.GreaterOrEqual(t, level, 0.0)
		assert.LessOrEqual(t, level, 1.0)
	}
}

func TestScore_DegenerateInputScoresZero(t *testing.T) {
	s := NewScorer(testLogger(), 0)

	level := s.Score(features.Features{
		ThetaPower:         math.NaN(),
		CognitiveLoadIndex: math.Inf(1),
	})
	assert.Equal(t, 0.0, level)
}

func TestScore_CalmSignalStaysLow(t *testing.T) {
	s := NewScorer(testLogger(), 0)

	var level float64
	for i := 0; i < 20; i++ {
		level = s.Score(calmFeatures())
	}
	assert.Less(t, level, 0.3)
}

func TestScore_IndependentOfAbsoluteScale(t *testing.T) {
	s := NewScorer(testLogger(), 0)

	// Resting proportions at large absolute magnitudes, as produced by a
	// high-amplitude recording: the score depends on the band mix, not on
	// the microvolt scale.
	f := features.Features{
		ThetaPower:         120,
		AlphaPower:         600,
		BetaPower:          15,
		GammaPower:         5,
		ThetaAlphaRatio:    0.2,
		BetaAlphaRatio:     0.025,
		CognitiveLoadIndex: 0.225,
	}

	var level float64
	for i := 0; i < 20; i++ {
		level = s.Score(f)
	}
	assert.Less(t, level, 0.3, "alpha-dominant mix reads calm at any amplitude")
}

func TestScore_ZeroPowerScoresZero(t *testing.T) {
	s := NewScorer(testLogger(), 0)
	assert.Equal(t, 0.0, s.Score(features.Features{}))
}

func TestScore_ConfusedSignalConverges(t *testing.T) {
	s := NewScorer(testLogger(), 0)

	var level float64
	for i := 0; i < 15; i++ {
		level = s.Score(confusedFeatures())
	}
	assert.Greater(t, level, 0.7, "EMA converges toward the high raw score")
}

func TestScore_SmoothingDampsJumps(t *testing.T) {
	s := NewScorer(testLogger(), 0)

	s.Score(calmFeatures())
	low := s.Current()
	jumped := s.Score(confusedFeatures())

	raw := 1.0 // confused features saturate every component
	assert.Less(t, jumped, raw, "one confused tick cannot saturate the level")
	assert.Greater(t, jumped, low)
}

func TestCalibration_OneWayAfterEleventhSample(t *testing.T) {
	s := NewScorer(testLogger(), 0)

	for i := 0; i < 11; i++ {
		s.Score(calmFeatures())
		assert.False(t, s.Calibrated(), "calibration requires more than %d samples", calibrationSamples)
	}

	s.Score(calmFeatures())
	assert.True(t, s.Calibrated())

	// Stays calibrated regardless of later input.
	for i := 0; i < 60; i++ {
		s.Score(confusedFeatures())
	}
	assert.True(t, s.Calibrated())
}

func TestTrend(t *testing.T) {
	t.Run("insufficient data", func(t *testing.T) {
		s := NewScorer(testLogger(), 0)
		for i := 0; i < 4; i++ {
			s.Score(calmFeatures())
		}
		assert.Equal(t, TrendInsufficientData, s.Trend())
	})

	t.Run("increasing", func(t *testing.T) {
		s := NewScorer(testLogger(), 0)
		for i := 0; i < 5; i++ {
			s.Score(calmFeatures())
		}
		for i := 0; i < 5; i++ {
			s.Score(confusedFeatures())
		}
		assert.Equal(t, TrendIncreasing, s.Trend())
	})

	t.Run("decreasing", func(t *testing.T) {
		s := NewScorer(testLogger(), 0)
		for i := 0; i < 10; i++ {
			s.Score(confusedFeatures())
		}
		for i := 0; i < 5; i++ {
			s.Score(calmFeatures())
		}
		assert.Equal(t, TrendDecreasing, s.Trend())
	})

	t.Run("stable", func(t *testing.T) {
		s := NewScorer(testLogger(), 0)
		for i := 0; i < 30; i++ {
			s.Score(calmFeatures())
		}
		assert.Equal(t, TrendStable, s.Trend())
	})
}

func TestHistoryBounded(t *testing.T) {
	s := NewScorer(testLogger(), 10)

	for i := 0; i < 100; i++ {
		s.Score(calmFeatures())
	}
	assert.Equal(t, 10, s.Stats().Samples)
}

func TestStats(t *testing.T) {
	s := NewScorer(testLogger(), 0)

	stats := s.Stats()
	assert.Equal(t, 0, stats.Samples)
	assert.Equal(t, TrendInsufficientData, stats.Trend)
	assert.Equal(t, 0.0, s.Current())

	for i := 0; i < 15; i++ {
		s.Score(confusedFeatures())
	}
	stats = s.Stats()
	assert.Equal(t, 15, stats.Samples)
	assert.Equal(t, stats.Current, s.Current())
	assert.GreaterOrEqual(t, stats.Max, stats.Mean)
}
