package signal

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

func TestConditioner_InsufficientHistory(t *testing.T) {
	c := NewConditioner(testLogger(), Config{SampleRate: 128})

	c.Ingest("AF3", []float64{1, 2, 3})
	window, quality := c.Condition("AF3")

	require.Len(t, window, 1)
	assert.Equal(t, 3.0, window[0], "latest raw value passes through")
	assert.Equal(t, UnknownQuality, quality)
}

func TestConditioner_UnknownChannel(t *testing.T) {
	c := NewConditioner(testLogger(), Config{SampleRate: 128})

	window, quality := c.Condition("F3")
	assert.Nil(t, window)
	assert.Equal(t, UnknownQuality, quality)
}

func TestConditioner_CleanSignalHighQuality(t *testing.T) {
	c := NewConditioner(testLogger(), Config{SampleRate: 128})

	signal := make([]float64, 256)
	for i := range signal {
		signal[i] = 30 * math.Sin(2*math.Pi*10*float64(i)/128)
	}
	c.Ingest("AF3", signal)

	window, quality := c.Condition("AF3")
	require.Len(t, window, 256)
	assert.Equal(t, 1.0, quality, "clean sinusoid has no artifacts")
}

func TestConditioner_ArtifactsLowerQuality(t *testing.T) {
	c := NewConditioner(testLogger(), Config{SampleRate: 128})

	signal := make([]float64, 256)
	for i := range signal {
		signal[i] = 30 * math.Sin(2*math.Pi*10*float64(i)/128)
		if i%4 == 0 {
			signal[i] = 2000 // electrode pop
		}
	}
	c.Ingest("AF3", signal)

	window, quality := c.Condition("AF3")
	require.Len(t, window, 256)
	assert.Less(t, quality, 1.0)
}

func TestConditioner_BufferBounded(t *testing.T) {
	c := NewConditioner(testLogger(), Config{SampleRate: 128})

	c.Ingest("AF3", make([]float64, 1000))
	window, _ := c.Condition("AF3")
	assert.Len(t, window, 256, "buffer holds at most two seconds")
}

func TestConditioner_Statistics(t *testing.T) {
	c := NewConditioner(testLogger(), Config{SampleRate: 128})

	c.Ingest("AF3", []float64{1, 2, 3, 4, 5})
	stats := c.Statistics("AF3")

	assert.Equal(t, 5, stats.Samples)
	assert.InDelta(t, 3.0, stats.Mean, 1e-9)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 5.0, stats.Max)
	assert.Equal(t, 4.0, stats.PeakToPeak)

	assert.Equal(t, Statistics{}, c.Statistics("missing"))
}

func TestConditioner_Reset(t *testing.T) {
	c := NewConditioner(testLogger(), Config{SampleRate: 128})

	c.Ingest("AF3", []float64{1, 2, 3})
	c.Ingest("F4", []float64{1})
	assert.Len(t, c.Channels(), 2)

	c.Reset()
	assert.Empty(t, c.Channels())
}
