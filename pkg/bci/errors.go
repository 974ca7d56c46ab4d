package bci

import "errors"

var (
	// ErrNotConnected is returned by GetSample when the source has no
	// active device connection.
	ErrNotConnected = errors.New("bci: device not connected")

	// ErrNoData indicates the device produced no readings this instant.
	ErrNoData = errors.New("bci: no data available")
)
