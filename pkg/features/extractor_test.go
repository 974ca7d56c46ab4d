package features

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func sine(freq, sampleRate, amplitude float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return out
}

func TestWelch_PeakAtSignalFrequency(t *testing.T) {
	w := newWelchEstimator(64)
	freqs, psd := w.estimate(sine(10, 128, 50, 256), 128)
	require.NotNil(t, psd)

	peak := 0
	for i := range psd {
		if psd[i] > psd[peak] {
			peak = i
		}
	}
	assert.InDelta(t, 10, freqs[peak], 2.0, "spectral peak near 10 Hz")
}

func TestWelch_TooShortSignal(t *testing.T) {
	w := newWelchEstimator(64)
	freqs, psd := w.estimate(make([]float64, 32), 128)
	assert.Nil(t, freqs)
	assert.Nil(t, psd)
}

func TestBandPower(t *testing.T) {
	freqs := []float64{0, 2, 4, 6, 8, 10}
	psd := []float64{1, 1, 4, 4, 2, 2}

	assert.InDelta(t, 4, bandPower(freqs, psd, 4, 6), 1e-9)
	assert.InDelta(t, 2, bandPower(freqs, psd, 8, 10), 1e-9)
	assert.Equal(t, 0.0, bandPower(freqs, psd, 20, 30), "empty band is zero")
}

func TestExtract_AlphaDominantSignal(t *testing.T) {
	e := NewExtractor(testLogger())

	windows := map[string][]float64{
		"AF3": sine(10, 128, 50, 256),
		"F4":  sine(10, 128, 50, 256),
	}
	f := e.Extract(windows, 128)

	assert.Greater(t, f.AlphaPower, f.ThetaPower, "10 Hz sits in the alpha band")
	assert.Greater(t, f.AlphaPower, f.BetaPower)
	assert.Less(t, f.ThetaAlphaRatio, 1.0)
	assert.Less(t, f.BetaAlphaRatio, 1.0)
}

func TestExtract_ThetaBetaDominantSignal(t *testing.T) {
	e := NewExtractor(testLogger())

	mixed := make([]float64, 256)
	theta := sine(6, 128, 60, 256)
	beta := sine(20, 128, 45, 256)
	for i := range mixed {
		mixed[i] = theta[i] + beta[i]
	}
	f := e.Extract(map[string][]float64{"AF3": mixed}, 128)

	assert.Greater(t, f.ThetaPower, f.AlphaPower)
	assert.Greater(t, f.BetaPower, f.AlphaPower)
	assert.Greater(t, f.ThetaAlphaRatio, 1.0)
	assert.Greater(t, f.CognitiveLoadIndex, 1.0)
}

func TestExtract_IgnoresNonFrontalChannels(t *testing.T) {
	e := NewExtractor(testLogger())

	windows := map[string][]float64{
		"O1": sine(10, 128, 50, 256),
		"T7": sine(10, 128, 50, 256),
	}
	f := e.Extract(windows, 128)

	assert.Equal(t, Features{}, f, "no frontal channels means zero features")
}

func TestExtract_ShortWindowContributesZeroPower(t *testing.T) {
	e := NewExtractor(testLogger())

	f := e.Extract(map[string][]float64{"AF3": {42.0}}, 128)

	assert.Equal(t, 0.0, f.ThetaPower)
	assert.Equal(t, 0.0, f.AlphaPower)
	assert.Equal(t, 0.0, f.BetaPower)
}

func TestFeatures_Map(t *testing.T) {
	f := Features{ThetaPower: 1, AlphaPower: 2, BetaPower: 3}
	m := f.Map()

	assert.Equal(t, 1.0, m["theta_power"])
	assert.Equal(t, 2.0, m["alpha_power"])
	assert.Equal(t, 3.0, m["beta_power"])
	assert.Len(t, m, 7)
}
