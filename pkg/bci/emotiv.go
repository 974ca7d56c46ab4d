package bci

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	apperrors "bci-monitor/pkg/errors"
)

// EmotivConfig holds the Cortex service connection parameters.
type EmotivConfig struct {
	// URL of the local Cortex service, normally wss://localhost:6868.
	URL          string
	ClientID     string
	ClientSecret string
	SampleRate   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
}

// EmotivSource reads live EEG from an EMOTIV headset through the Cortex
// API, which is JSON-RPC over a WebSocket. The source keeps the handshake
// state (token, session, channel labels) so Connect can be retried safely
// after a drop.
type EmotivSource struct {
	logger *logrus.Logger
	config EmotivConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	token     string
	sessionID string
	headsetID string
	labels    []string
	requestID int
}

type cortexRequest struct {
	ID      int                    `json:"id"`
	JSONRPC string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

type cortexResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`

	// Stream data fields (present on subscription pushes, not responses).
	EEG  []json.Number `json:"eeg"`
	Time float64       `json:"time"`
	SID  string        `json:"sid"`
}

// NewEmotivSource creates a Cortex-backed data source.
func NewEmotivSource(logger *logrus.Logger, config EmotivConfig) *EmotivSource {
	if config.URL == "" {
		config.URL = "wss://localhost:6868"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 128
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 5 * time.Second
	}
	return &EmotivSource{logger: logger, config: config}
}

// Connect dials the Cortex service and runs the access/session/subscribe
// handshake. Safe to call repeatedly; a connected source is left alone.
func (e *EmotivSource) Connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: e.config.DialTimeout}
	conn, _, err := dialer.Dial(e.config.URL, nil)
	if err != nil {
		return apperrors.NewDeviceUnavailable("emotiv_cortex", map[string]interface{}{
			"url":   e.config.URL,
			"cause": err.Error(),
		})
	}
	e.conn = conn

	if err := e.handshake(); err != nil {
		conn.Close()
		e.conn = nil
		return err
	}

	e.connected = true
	e.logger.WithField("headset", e.headsetID).Info("EMOTIV headset connected")
	return nil
}

// handshake authorizes, opens a session against the first headset and
// subscribes to the eeg stream. Caller holds the lock.
func (e *EmotivSource) handshake() error {
	authResult, err := e.call("authorize", map[string]interface{}{
		"clientId":     e.config.ClientID,
		"clientSecret": e.config.ClientSecret,
	})
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	var auth struct {
		CortexToken string `json:"cortexToken"`
	}
	if err := json.Unmarshal(authResult, &auth); err != nil {
		return fmt.Errorf("parsing authorize result: %w", err)
	}
	e.token = auth.CortexToken

	headsetsResult, err := e.call("queryHeadsets", nil)
	if err != nil {
		return fmt.Errorf("queryHeadsets: %w", err)
	}
	var headsets []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(headsetsResult, &headsets); err != nil {
		return fmt.Errorf("parsing headset list: %w", err)
	}
	if len(headsets) == 0 {
		return apperrors.NewDeviceUnavailable("epoc_plus", map[string]interface{}{
			"reason": "no headset found",
		})
	}
	e.headsetID = headsets[0].ID

	sessionResult, err := e.call("createSession", map[string]interface{}{
		"cortexToken": e.token,
		"headset":     e.headsetID,
		"status":      "active",
	})
	if err != nil {
		return fmt.Errorf("createSession: %w", err)
	}
	var session struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(sessionResult, &session); err != nil {
		return fmt.Errorf("parsing session result: %w", err)
	}
	e.sessionID = session.ID

	subResult, err := e.call("subscribe", map[string]interface{}{
		"cortexToken": e.token,
		"session":     e.sessionID,
		"streams":     []string{"eeg"},
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	var sub struct {
		Success []struct {
			StreamName string   `json:"streamName"`
			Cols       []string `json:"cols"`
		} `json:"success"`
	}
	if err := json.Unmarshal(subResult, &sub); err != nil {
		return fmt.Errorf("parsing subscribe result: %w", err)
	}
	for _, s := range sub.Success {
		if s.StreamName == "eeg" {
			e.labels = s.Cols
		}
	}
	if len(e.labels) == 0 {
		return fmt.Errorf("eeg stream subscription not confirmed")
	}
	return nil
}

// call performs one JSON-RPC round trip. Stream pushes that arrive while
// waiting for the response are discarded. Caller holds the lock.
func (e *EmotivSource) call(method string, params map[string]interface{}) (json.RawMessage, error) {
	e.requestID++
	req := cortexRequest{ID: e.requestID, JSONRPC: "2.0", Method: method, Params: params}
	if err := e.conn.WriteJSON(req); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(e.config.ReadTimeout)
	for time.Now().Before(deadline) {
		e.conn.SetReadDeadline(deadline)
		var resp cortexResponse
		if err := e.conn.ReadJSON(&resp); err != nil {
			return nil, err
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("cortex %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
	return nil, fmt.Errorf("cortex %s: response timeout", method)
}

// GetSample reads one eeg stream push and maps its columns to channel
// readings.
func (e *EmotivSource) GetSample() (*Sample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected || e.conn == nil {
		return nil, ErrNotConnected
	}

	e.conn.SetReadDeadline(time.Now().Add(e.config.ReadTimeout))
	var push cortexResponse
	if err := e.conn.ReadJSON(&push); err != nil {
		e.teardown()
		return nil, fmt.Errorf("reading eeg stream: %w", err)
	}
	if len(push.EEG) == 0 {
		return nil, ErrNoData
	}

	sample := &Sample{
		Channels:   make(map[string][]float64, len(EpocChannels)),
		SampleRate: e.config.SampleRate,
		Timestamp:  time.Now(),
	}
	for i, label := range e.labels {
		if i >= len(push.EEG) || !isEEGChannel(label) {
			continue
		}
		v, err := push.EEG[i].Float64()
		if err != nil {
			continue
		}
		sample.Channels[label] = []float64{v}
	}
	// A push with readings but no recognizable electrode column is
	// malformed, not empty; the caller drops it without reconnecting.
	if len(sample.Channels) == 0 {
		return nil, apperrors.NewInvalidSample("no electrode columns in eeg push", map[string]interface{}{
			"columns": len(push.EEG),
		})
	}
	return sample, nil
}

// Disconnect closes the session and socket.
func (e *EmotivSource) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return
	}
	e.teardown()
	e.logger.Info("EMOTIV headset disconnected")
}

// teardown drops the socket state. Caller holds the lock.
func (e *EmotivSource) teardown() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connected = false
	e.sessionID = ""
}

// IsConnected implements DataSource.
func (e *EmotivSource) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// DeviceInfo implements DataSource.
func (e *EmotivSource) DeviceInfo() DeviceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return DeviceInfo{
		Connected:    e.connected,
		DeviceType:   "EMOTIV EPOC+",
		HeadsetID:    e.headsetID,
		SampleRate:   e.config.SampleRate,
		ChannelCount: len(EpocChannels),
	}
}

// isEEGChannel filters the bookkeeping columns (COUNTER, INTERPOLATED,
// MARKERS...) Cortex interleaves with electrode values.
func isEEGChannel(label string) bool {
	for _, c := range EpocChannels {
		if c == label {
			return true
		}
	}
	return false
}
