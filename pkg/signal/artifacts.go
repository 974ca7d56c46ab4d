package signal

import "math"

// amplitudeQuality returns 1 minus the fraction of samples whose magnitude
// exceeds the threshold, clamped at 0. Muscle movements and electrode pops
// show up here.
func amplitudeQuality(window []float64, threshold float64) float64 {
	if len(window) == 0 {
		return 0
	}
	violations := 0
	for _, v := range window {
		if math.Abs(v) > threshold {
			violations++
		}
	}
	quality := 1.0 - float64(violations)/float64(len(window))
	return math.Max(quality, 0)
}

// gradientQuality returns 1 minus the fraction of sample-to-sample deltas
// exceeding the threshold, clamped at 0. Sudden jumps indicate cable or
// contact artifacts.
func gradientQuality(window []float64, threshold float64) float64 {
	if len(window) < 2 {
		return 0
	}
	violations := 0
	for i := 1; i < len(window); i++ {
		if math.Abs(window[i]-window[i-1]) > threshold {
			violations++
		}
	}
	quality := 1.0 - float64(violations)/float64(len(window)-1)
	return math.Max(quality, 0)
}

// correctArtifacts replaces samples exceeding the amplitude threshold with
// values linearly interpolated from their nearest valid neighbors. When
// fewer than two valid samples exist the window is returned unchanged.
func correctArtifacts(window []float64, amplitudeThreshold float64) []float64 {
	valid := make([]int, 0, len(window))
	for i, v := range window {
		if math.Abs(v) <= amplitudeThreshold {
			valid = append(valid, i)
		}
	}
	if len(valid) < 2 || len(valid) == len(window) {
		return window
	}

	corrected := append([]float64(nil), window...)
	for i := range corrected {
		if math.Abs(corrected[i]) <= amplitudeThreshold {
			continue
		}
		corrected[i] = interpolateAt(i, valid, window)
	}
	return corrected
}

// interpolateAt linearly interpolates the value at index i from the valid
// sample indices, extrapolating flat beyond the first and last.
func interpolateAt(i int, valid []int, window []float64) float64 {
	if i <= valid[0] {
		return window[valid[0]]
	}
	if i >= valid[len(valid)-1] {
		return window[valid[len(valid)-1]]
	}
	// Find the valid neighbors straddling i.
	lo, hi := 0, len(valid)-1
	for lo+1 < len(valid) && valid[lo+1] < i {
		lo++
	}
	hi = lo + 1
	x0, x1 := valid[lo], valid[hi]
	y0, y1 := window[x0], window[x1]
	frac := float64(i-x0) / float64(x1-x0)
	return y0 + frac*(y1-y0)
}

// movingAverage applies a centered moving-average of the given window
// size. Edge samples average over the neighbors that exist but keep the
// full divisor, slightly damping the edges.
func movingAverage(window []float64, size int) []float64 {
	if len(window) < size || size < 2 {
		return window
	}
	half := size / 2
	smoothed := make([]float64, len(window))
	for i := range window {
		sum := 0.0
		for j := i - half; j <= i+half; j++ {
			if j >= 0 && j < len(window) {
				sum += window[j]
			}
		}
		smoothed[i] = sum / float64(size)
	}
	return smoothed
}
