package signal

import (
	"fmt"
	"math"
)

// biquad is a second-order IIR section in normalized form (a0 = 1),
// applied in direct form II transposed.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func (f biquad) apply(x []float64) []float64 {
	y := make([]float64, len(x))
	var z1, z2 float64
	for i, v := range x {
		out := f.b0*v + z1
		z1 = f.b1*v - f.a1*out + z2
		z2 = f.b2*v - f.a2*out
		y[i] = out
	}
	return y
}

// Butterworth pole Q values for a 4th-order cascade of two sections.
var butterworthQ4 = [2]float64{0.54119610, 1.30656296}

// lowpassBiquad designs a second-order low-pass section (RBJ cookbook).
func lowpassBiquad(cutoff, sampleRate, q float64) (biquad, error) {
	if err := checkFrequency(cutoff, sampleRate); err != nil {
		return biquad{}, err
	}
	w0 := 2 * math.Pi * cutoff / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha
	return biquad{
		b0: (1 - cosw0) / 2 / a0,
		b1: (1 - cosw0) / a0,
		b2: (1 - cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}, nil
}

// highpassBiquad designs a second-order high-pass section (RBJ cookbook).
func highpassBiquad(cutoff, sampleRate, q float64) (biquad, error) {
	if err := checkFrequency(cutoff, sampleRate); err != nil {
		return biquad{}, err
	}
	w0 := 2 * math.Pi * cutoff / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosw0) / 2 / a0,
		b1: -(1 + cosw0) / a0,
		b2: (1 + cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}, nil
}

// notchBiquad designs a narrow band-reject section centered on freq.
func notchBiquad(freq, sampleRate, q float64) (biquad, error) {
	if err := checkFrequency(freq, sampleRate); err != nil {
		return biquad{}, err
	}
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha
	return biquad{
		b0: 1 / a0,
		b1: -2 * cosw0 / a0,
		b2: 1 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}, nil
}

// bandpassCascade builds a 4th-order Butterworth band-pass as two
// high-pass sections at the low edge followed by two low-pass sections at
// the high edge.
func bandpassCascade(low, high, sampleRate float64) ([]biquad, error) {
	sections := make([]biquad, 0, 4)
	for _, q := range butterworthQ4 {
		hp, err := highpassBiquad(low, sampleRate, q)
		if err != nil {
			return nil, err
		}
		sections = append(sections, hp)
	}
	for _, q := range butterworthQ4 {
		lp, err := lowpassBiquad(high, sampleRate, q)
		if err != nil {
			return nil, err
		}
		sections = append(sections, lp)
	}
	return sections, nil
}

// filtfilt runs the cascade forward and then backward over the signal,
// cancelling the filter's phase delay.
func filtfilt(sections []biquad, x []float64) []float64 {
	y := append([]float64(nil), x...)
	for _, s := range sections {
		y = s.apply(y)
	}
	reverse(y)
	for _, s := range sections {
		y = s.apply(y)
	}
	reverse(y)
	return y
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

func checkFrequency(freq, sampleRate float64) error {
	if freq <= 0 || freq >= sampleRate/2 {
		return fmt.Errorf("frequency %.2f Hz outside (0, %.2f) at %g Hz sampling", freq, sampleRate/2, sampleRate)
	}
	return nil
}
