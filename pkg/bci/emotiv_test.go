package bci

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bci-monitor/pkg/errors"
)

func TestEmotivSource_ConnectUnreachableCortex(t *testing.T) {
	source := NewEmotivSource(testLogger(), EmotivConfig{
		URL:         "ws://127.0.0.1:9",
		DialTimeout: 500 * time.Millisecond,
	})

	err := source.Connect()
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrDeviceUnavailable))
	assert.Equal(t, "DEVICE_UNAVAILABLE", apperrors.GetErrorCode(err))
	assert.False(t, source.IsConnected())
}

func TestEmotivSource_GetSampleNotConnected(t *testing.T) {
	source := NewEmotivSource(testLogger(), EmotivConfig{})

	_, err := source.GetSample()
	assert.ErrorIs(t, err, ErrNotConnected)
}
