package bci

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SignalProfile controls the amplitude mix of the simulated EEG signal in
// microvolts. Alpha-dominant profiles read as calm; theta/beta-dominant
// profiles read as confused.
type SignalProfile struct {
	ThetaAmplitude float64 // 6 Hz component
	AlphaAmplitude float64 // 10 Hz component
	BetaAmplitude  float64 // 20 Hz component
	NoiseStdDev    float64 // Gaussian noise
}

// DefaultProfile mixes all three rhythms, roughly matching a resting
// recording.
func DefaultProfile() SignalProfile {
	return SignalProfile{ThetaAmplitude: 40, AlphaAmplitude: 50, BetaAmplitude: 30, NoiseStdDev: 10}
}

// CalmProfile is alpha-dominant with little theta or beta.
func CalmProfile() SignalProfile {
	return SignalProfile{ThetaAmplitude: 4, AlphaAmplitude: 50, BetaAmplitude: 3, NoiseStdDev: 2}
}

// ConfusedProfile is theta/beta-dominant with nearly no alpha.
func ConfusedProfile() SignalProfile {
	return SignalProfile{ThetaAmplitude: 60, AlphaAmplitude: 0.5, BetaAmplitude: 45, NoiseStdDev: 2}
}

// SimulatedSource generates synthetic EEG for development and tests. The
// sinusoid phase is continuous across GetSample calls so spectral content
// is stable regardless of batch boundaries.
type SimulatedSource struct {
	logger     *logrus.Logger
	sampleRate int
	batchSize  int
	profile    SignalProfile

	mu           sync.Mutex
	connected    bool
	sampleIndex  int64
	rng          *rand.Rand
	channelNames []string
}

// NewSimulatedSource creates a simulated headset emitting batchSize samples
// per channel per GetSample call. A batchSize of 0 defaults to one tenth of
// a second of data.
func NewSimulatedSource(logger *logrus.Logger, sampleRate, batchSize int, profile SignalProfile) *SimulatedSource {
	if sampleRate <= 0 {
		sampleRate = 128
	}
	if batchSize <= 0 {
		batchSize = sampleRate / 10
	}
	return &SimulatedSource{
		logger:       logger,
		sampleRate:   sampleRate,
		batchSize:    batchSize,
		profile:      profile,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		channelNames: append([]string(nil), EpocChannels...),
	}
}

// SetProfile swaps the signal profile at runtime, e.g. to drive demo
// scenarios.
func (s *SimulatedSource) SetProfile(profile SignalProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
}

// Connect implements DataSource.
func (s *SimulatedSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.connected = true
	s.logger.Info("Simulated EEG source connected")
	return nil
}

// Disconnect implements DataSource.
func (s *SimulatedSource) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.logger.Info("Simulated EEG source disconnected")
}

// IsConnected implements DataSource.
func (s *SimulatedSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// GetSample implements DataSource.
func (s *SimulatedSource) GetSample() (*Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}

	sample := &Sample{
		Channels:   make(map[string][]float64, len(s.channelNames)),
		SampleRate: s.sampleRate,
		Timestamp:  time.Now(),
	}

	base := s.sampleIndex
	for _, channel := range s.channelNames {
		values := make([]float64, s.batchSize)
		for i := range values {
			t := float64(base+int64(i)) / float64(s.sampleRate)
			values[i] = s.profile.ThetaAmplitude*math.Sin(2*math.Pi*6*t) +
				s.profile.AlphaAmplitude*math.Sin(2*math.Pi*10*t) +
				s.profile.BetaAmplitude*math.Sin(2*math.Pi*20*t) +
				s.rng.NormFloat64()*s.profile.NoiseStdDev
		}
		sample.Channels[channel] = values
	}
	s.sampleIndex += int64(s.batchSize)

	return sample, nil
}

// DeviceInfo implements DataSource.
func (s *SimulatedSource) DeviceInfo() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DeviceInfo{
		Connected:    s.connected,
		DeviceType:   "EMOTIV EPOC+ (simulated)",
		HeadsetID:    "sim-headset-001",
		SampleRate:   s.sampleRate,
		ChannelCount: len(s.channelNames),
		Simulated:    true,
	}
}
