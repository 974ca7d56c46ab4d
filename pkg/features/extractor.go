// Package features turns conditioned EEG windows into frequency-band
// power features. Confusion shows up spectrally as increased theta
// (mental effort), decreased alpha (reduced relaxation) and increased
// beta (cognitive load), so those bands and their ratios are what the
// scorer consumes.
package features

import (
	"math"

	"github.com/sirupsen/logrus"

	"bci-monitor/pkg/bci"
)

// Frequency band edges in Hz.
const (
	thetaLow, thetaHigh = 4.0, 8.0
	alphaLow, alphaHigh = 8.0, 13.0
	betaLow, betaHigh   = 13.0, 30.0
	gammaLow, gammaHigh = 30.0, 100.0
)

// ratioEpsilon guards the band-ratio divisions against a vanishing alpha
// band.
const ratioEpsilon = 0.001

// Features is the fixed set of band powers and derived indices produced
// per analysis tick. All values are non-negative.
type Features struct {
	ThetaPower         float64 `json:"theta_power"`
	AlphaPower         float64 `json:"alpha_power"`
	BetaPower          float64 `json:"beta_power"`
	GammaPower         float64 `json:"gamma_power"`
	ThetaAlphaRatio    float64 `json:"theta_alpha_ratio"`
	BetaAlphaRatio     float64 `json:"beta_alpha_ratio"`
	CognitiveLoadIndex float64 `json:"cognitive_load_index"`
}

// Map returns the features keyed by their wire names, for records and
// broadcasts.
func (f Features) Map() map[string]float64 {
	return map[string]float64{
		"theta_power":          f.ThetaPower,
		"alpha_power":          f.AlphaPower,
		"beta_power":           f.BetaPower,
		"gamma_power":          f.GammaPower,
		"theta_alpha_ratio":    f.ThetaAlphaRatio,
		"beta_alpha_ratio":     f.BetaAlphaRatio,
		"cognitive_load_index": f.CognitiveLoadIndex,
	}
}

// Extractor computes Features from multi-channel windows. Only the
// frontal channel subset contributes; other channels are ignored.
type Extractor struct {
	logger *logrus.Logger
	welch  *welchEstimator
}

// NewExtractor creates an extractor using 64-sample Welch segments.
func NewExtractor(logger *logrus.Logger) *Extractor {
	return &Extractor{
		logger: logger,
		welch:  newWelchEstimator(64),
	}
}

// Extract averages per-band power across the present frontal channels.
// Channels with insufficient history (window shorter than one Welch
// segment) are expanded to a constant series, which contributes zero
// power after detrending. If no frontal channel is present, all features
// are zero; this is a defined result, not an error.
func (e *Extractor) Extract(windows map[string][]float64, sampleRate int) Features {
	var theta, alpha, beta, gamma float64
	channels := 0

	for channel, window := range windows {
		if !bci.IsFrontal(channel) || len(window) == 0 {
			continue
		}
		if len(window) < e.welch.segmentLength {
			window = constantWindow(window[len(window)-1], 2*e.welch.segmentLength)
		}

		freqs, psd := e.welch.estimate(window, sampleRate)
		if psd == nil {
			continue
		}
		theta += bandPower(freqs, psd, thetaLow, thetaHigh)
		alpha += bandPower(freqs, psd, alphaLow, alphaHigh)
		beta += bandPower(freqs, psd, betaLow, betaHigh)
		gamma += bandPower(freqs, psd, gammaLow, gammaHigh)
		channels++
	}

	if channels == 0 {
		return Features{}
	}

	n := float64(channels)
	f := Features{
		ThetaPower: theta / n,
		AlphaPower: alpha / n,
		BetaPower:  beta / n,
		GammaPower: gamma / n,
	}
	f.ThetaAlphaRatio = f.ThetaPower / math.Max(f.AlphaPower, ratioEpsilon)
	f.BetaAlphaRatio = f.BetaPower / math.Max(f.AlphaPower, ratioEpsilon)
	f.CognitiveLoadIndex = (f.ThetaPower + f.BetaPower) / math.Max(f.AlphaPower, ratioEpsilon)
	return f
}

func constantWindow(value float64, length int) []float64 {
	window := make([]float64, length)
	for i := range window {
		window[i] = value
	}
	return window
}
