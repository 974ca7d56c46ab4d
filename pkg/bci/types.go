package bci

import "time"

// EpocChannels lists the 14 electrode positions of the EMOTIV EPOC+ headset.
var EpocChannels = []string{
	"AF3", "F7", "F3", "FC5", "T7", "P7", "O1",
	"O2", "P8", "T8", "FC6", "F4", "F8", "AF4",
}

// FrontalChannels is the subset of electrodes used for cognitive load
// analysis. Channels outside this set are buffered but ignored for
// feature extraction.
var FrontalChannels = []string{"AF3", "AF4", "F3", "F4", "F7", "F8"}

// IsFrontal reports whether the channel belongs to the frontal subset.
func IsFrontal(channel string) bool {
	for _, c := range FrontalChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// Sample is one batch of readings from the headset. Each channel carries
// one or more scalar readings in microvolts; not every channel has to be
// present in every sample.
type Sample struct {
	Channels   map[string][]float64 `json:"channels"`
	SampleRate int                  `json:"sample_rate"`
	Timestamp  time.Time            `json:"timestamp"`
}

// DeviceInfo describes the connected (or simulated) headset.
type DeviceInfo struct {
	Connected    bool   `json:"connected"`
	DeviceType   string `json:"device_type"`
	HeadsetID    string `json:"headset_id"`
	SampleRate   int    `json:"sample_rate"`
	ChannelCount int    `json:"channels"`
	Simulated    bool   `json:"simulated"`
}

// DataSource abstracts the headset. Implementations must tolerate
// disconnects and support idempotent reconnect attempts; the sampling
// loop never branches on which variant it is talking to.
type DataSource interface {
	// Connect establishes the device connection. Calling Connect on an
	// already connected source is a no-op.
	Connect() error

	// Disconnect tears down the connection.
	Disconnect()

	// GetSample returns the next batch of readings, or nil when no data
	// is available this instant.
	GetSample() (*Sample, error)

	// IsConnected reports the current connection state.
	IsConnected() bool

	// DeviceInfo returns a snapshot of device metadata.
	DeviceInfo() DeviceInfo
}
