package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// welchEstimator computes one-sided power spectral density estimates via
// Welch's method: the signal is split into half-overlapping Hann-windowed
// segments whose periodograms are averaged.
type welchEstimator struct {
	segmentLength int
	hop           int
	fft           *fourier.FFT
	window        []float64
	windowPower   float64 // sum of squared window coefficients
}

func newWelchEstimator(segmentLength int) *welchEstimator {
	w := &welchEstimator{
		segmentLength: segmentLength,
		hop:           segmentLength / 2,
		fft:           fourier.NewFFT(segmentLength),
		window:        make([]float64, segmentLength),
	}
	for i := range w.window {
		// Periodic Hann window.
		w.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(segmentLength)))
		w.windowPower += w.window[i] * w.window[i]
	}
	return w
}

// estimate returns the frequency bins and PSD values for the signal. The
// signal must be at least one segment long. Units are power per Hz.
func (w *welchEstimator) estimate(signal []float64, sampleRate int) (freqs, psd []float64) {
	if len(signal) < w.segmentLength || sampleRate <= 0 {
		return nil, nil
	}

	bins := w.segmentLength/2 + 1
	psd = make([]float64, bins)
	segment := make([]float64, w.segmentLength)
	coeffs := make([]complex128, bins)
	scale := 1.0 / (float64(sampleRate) * w.windowPower)

	segments := 0
	for start := 0; start+w.segmentLength <= len(signal); start += w.hop {
		copy(segment, signal[start:start+w.segmentLength])
		detrend(segment)
		for i := range segment {
			segment[i] *= w.window[i]
		}
		coeffs = w.fft.Coefficients(coeffs, segment)
		for k := 0; k < bins; k++ {
			p := cmplx.Abs(coeffs[k])
			p = p * p * scale
			// One-sided estimate: double everything except DC and Nyquist.
			if k > 0 && k < bins-1 {
				p *= 2
			}
			psd[k] += p
		}
		segments++
	}
	if segments == 0 {
		return nil, nil
	}
	for k := range psd {
		psd[k] /= float64(segments)
	}

	freqs = make([]float64, bins)
	for k := range freqs {
		freqs[k] = float64(k) * float64(sampleRate) / float64(w.segmentLength)
	}
	return freqs, psd
}

// bandPower returns the mean PSD over bins with lo <= freq <= hi.
func bandPower(freqs, psd []float64, lo, hi float64) float64 {
	sum, count := 0.0, 0
	for i, f := range freqs {
		if f >= lo && f <= hi {
			sum += psd[i]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// detrend removes the segment mean in place.
func detrend(segment []float64) {
	mean := 0.0
	for _, v := range segment {
		mean += v
	}
	mean /= float64(len(segment))
	for i := range segment {
		segment[i] -= mean
	}
}
