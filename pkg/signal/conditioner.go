package signal

import (
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Config holds the conditioning parameters. Zero values fall back to the
// defaults used for EMOTIV EPOC+ recordings.
type Config struct {
	SampleRate         int     // Hz, default 128
	HighpassFreq       float64 // Hz, band-pass low edge, default 1
	LowpassFreq        float64 // Hz, band-pass high edge, default 50
	NotchFreq          float64 // Hz, mains interference, default 60
	NotchQ             float64 // notch quality factor, default 30
	AmplitudeThreshold float64 // microvolts, default 200
	GradientThreshold  float64 // microvolts/sample, default 50
	SmoothingWindow    int     // samples, default 5
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 128
	}
	if c.HighpassFreq <= 0 {
		c.HighpassFreq = 1.0
	}
	if c.LowpassFreq <= 0 {
		c.LowpassFreq = 50.0
	}
	if c.NotchFreq <= 0 {
		c.NotchFreq = 60.0
	}
	if c.NotchQ <= 0 {
		c.NotchQ = 30.0
	}
	if c.AmplitudeThreshold <= 0 {
		c.AmplitudeThreshold = 200.0
	}
	if c.GradientThreshold <= 0 {
		c.GradientThreshold = 50.0
	}
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = 5
	}
}

// UnknownQuality is reported for channels without enough history to run
// artifact detection.
const UnknownQuality = 0.5

// Statistics summarizes the raw samples buffered for one channel.
type Statistics struct {
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"std"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	PeakToPeak float64 `json:"peak_to_peak"`
	Samples    int     `json:"samples"`
}

// Conditioner turns noisy raw channel windows into quality-scored clean
// windows. It owns one ring buffer per channel holding the last two
// seconds of raw samples; buffers are created lazily on first ingest and
// unknown channel names are buffered like any other.
//
// Conditioner is mutated only from the sampling loop; the mutex guards
// the occasional Statistics/Reset caller on the HTTP path.
type Conditioner struct {
	logger *logrus.Logger
	config Config

	bufferSize int
	minSamples int // one second of data before filtering kicks in
	bandpass   []biquad
	notch      []biquad

	mu      sync.Mutex
	buffers map[string]*ringBuffer
}

// NewConditioner creates a conditioner. Filter design failures degrade to
// pass-through for the affected stage rather than failing construction.
func NewConditioner(logger *logrus.Logger, config Config) *Conditioner {
	config.applyDefaults()

	c := &Conditioner{
		logger:     logger,
		config:     config,
		bufferSize: config.SampleRate * 2,
		minSamples: config.SampleRate,
		buffers:    make(map[string]*ringBuffer),
	}

	bandpass, err := bandpassCascade(config.HighpassFreq, config.LowpassFreq, float64(config.SampleRate))
	if err != nil {
		logger.WithError(err).Warn("Band-pass filter design failed, stage disabled")
	} else {
		c.bandpass = bandpass
	}

	notch, err := notchBiquad(config.NotchFreq, float64(config.SampleRate), config.NotchQ)
	if err != nil {
		logger.WithError(err).Warn("Notch filter design failed, stage disabled")
	} else {
		c.notch = []biquad{notch}
	}

	return c
}

// Ingest appends new raw samples to the channel's ring buffer, creating
// it on first use.
func (c *Conditioner) Ingest(channel string, samples []float64) {
	if len(samples) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, ok := c.buffers[channel]
	if !ok {
		buf = newRingBuffer(c.bufferSize)
		c.buffers[channel] = buf
	}
	for _, v := range samples {
		buf.Append(v)
	}
}

// Condition returns the cleaned window for a channel together with a
// quality score in [0,1]. With less than one second of history it returns
// the most recent raw value and UnknownQuality. The quality score always
// reflects the signal before artifact correction.
func (c *Conditioner) Condition(channel string) ([]float64, float64) {
	c.mu.Lock()
	buf, ok := c.buffers[channel]
	if !ok || buf.Len() == 0 {
		c.mu.Unlock()
		return nil, UnknownQuality
	}
	if buf.Len() < c.minSamples {
		last := buf.Last()
		c.mu.Unlock()
		return []float64{last}, UnknownQuality
	}
	window := buf.Values()
	c.mu.Unlock()

	filtered := c.applyZeroPhase(c.bandpass, window)
	notched := c.applyZeroPhase(c.notch, filtered)

	ampQuality := amplitudeQuality(notched, c.config.AmplitudeThreshold)
	gradQuality := gradientQuality(notched, c.config.GradientThreshold)
	quality := (ampQuality + gradQuality) / 2.0

	clean := notched
	if quality < 0.5 {
		clean = correctArtifacts(notched, c.config.AmplitudeThreshold)
	}

	return movingAverage(clean, c.config.SmoothingWindow), quality
}

// applyZeroPhase runs a filter cascade forward-backward; a missing or
// failed stage passes the input through unchanged.
func (c *Conditioner) applyZeroPhase(sections []biquad, window []float64) []float64 {
	if len(sections) == 0 || len(window) == 0 {
		return window
	}
	out := filtfilt(sections, window)
	for _, v := range out {
		// A diverging filter state poisons everything downstream; fall
		// back to the unfiltered window.
		if v != v {
			c.logger.Warn("Filter stage produced NaN, passing signal through")
			return window
		}
	}
	return out
}

// Statistics returns summary statistics of the raw buffered samples for a
// channel, or a zero value when the channel has no data.
func (c *Conditioner) Statistics(channel string) Statistics {
	c.mu.Lock()
	buf, ok := c.buffers[channel]
	if !ok || buf.Len() == 0 {
		c.mu.Unlock()
		return Statistics{}
	}
	window := buf.Values()
	c.mu.Unlock()

	min := floats.Min(window)
	max := floats.Max(window)
	return Statistics{
		Mean:       stat.Mean(window, nil),
		StdDev:     stat.StdDev(window, nil),
		Min:        min,
		Max:        max,
		PeakToPeak: max - min,
		Samples:    len(window),
	}
}

// Channels returns the names of all buffered channels.
func (c *Conditioner) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.buffers))
	for name := range c.buffers {
		names = append(names, name)
	}
	return names
}

// Reset drops all channel buffers.
func (c *Conditioner) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers = make(map[string]*ringBuffer)
	c.logger.Info("Signal conditioning buffers reset")
}
