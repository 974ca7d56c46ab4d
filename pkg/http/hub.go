// Package http serves the websocket stream and the REST endpoints of
// the monitor.
package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bci-monitor/pkg/advisory"
	"bci-monitor/pkg/bci"
	"bci-monitor/pkg/metrics"
	"bci-monitor/pkg/monitor"
)

const staleClientAge = 300 * time.Second

// Hub fans monitor events out to connected websocket clients.
type Hub struct {
	logger       *logrus.Logger
	upgrader     websocket.Upgrader
	clients      map[*Client]bool
	clientsMu    sync.RWMutex
	register     chan *Client
	unregister   chan *Client
	broadcast    chan *Message
	stop         chan struct{}
	stopOnce     sync.Once
	pingInterval time.Duration

	state *monitor.State
	stats func() monitor.Stats
}

// Client represents a connected websocket client.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	sessionID   string
	connectedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// Message is the envelope for every websocket frame the hub sends.
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewHub creates a websocket hub bound to the monitor state. The stats
// function backs the status_update messages and may be nil.
func NewHub(logger *logrus.Logger, state *monitor.State, stats func() monitor.Stats) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *Message, 256),
		stop:         make(chan struct{}),
		pingInterval: 54 * time.Second,
		state:        state,
		stats:        stats,
	}
}

// SetStats installs the stats snapshot function backing status messages.
// Must be called before Start.
func (h *Hub) SetStats(stats func() monitor.Stats) {
	h.stats = stats
}

// Start begins the hub's event loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop shuts the hub down, disconnecting every client. Safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// run manages client registration, broadcasting and periodic upkeep.
func (h *Hub) run() {
	statusTicker := time.NewTicker(10 * time.Second)
	sweepTicker := time.NewTicker(60 * time.Second)
	defer statusTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-h.stop:
			h.clientsMu.RLock()
			all := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				all = append(all, client)
			}
			h.clientsMu.RUnlock()
			h.cleanupClients(all)
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			metrics.WSClientsConnected.Set(float64(len(h.clients)))
			h.clientsMu.Unlock()
			h.logger.WithField("session_id", client.sessionID).Debug("WebSocket client registered")

		case client := <-h.unregister:
			h.cleanupClients([]*Client{client})

		case message := <-h.broadcast:
			stale := h.broadcastMessage(message)
			if len(stale) > 0 {
				h.cleanupClients(stale)
			}

		case <-statusTicker.C:
			h.BroadcastStatus()

		case <-sweepTicker.C:
			stale := h.staleClients()
			if len(stale) > 0 {
				h.cleanupClients(stale)
			}
		}
	}
}

// broadcastMessage sends a message to every client, collecting clients
// whose send buffer is full.
func (h *Hub) broadcastMessage(message *Message) []*Client {
	if message == nil {
		return nil
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal websocket message")
		return nil
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	var stale []*Client
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			metrics.WSBroadcastsDropped.Inc()
			stale = append(stale, client)
		}
	}

	metrics.WSBroadcastsSent.WithLabelValues(message.Type).Inc()
	return stale
}

// staleClients returns clients that have not been heard from for too
// long. Pong handling refreshes lastSeen, so a healthy idle client is
// never swept.
func (h *Hub) staleClients() []*Client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	cutoff := time.Now().Add(-staleClientAge)
	var stale []*Client
	for client := range h.clients {
		client.mu.Lock()
		last := client.lastSeen
		client.mu.Unlock()
		if last.Before(cutoff) {
			stale = append(stale, client)
		}
	}
	return stale
}

// cleanupClients removes clients and closes their send channels.
func (h *Hub) cleanupClients(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	h.clientsMu.Lock()
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			// The closed flag keeps reply paths off the channel once it
			// is closed; see Client.enqueueFrame.
			client.mu.Lock()
			client.closed = true
			client.mu.Unlock()
			close(client.send)
			h.logger.WithField("session_id", client.sessionID).Debug("WebSocket client unregistered")
		}
	}
	metrics.WSClientsConnected.Set(float64(len(h.clients)))
	h.clientsMu.Unlock()
}

// ServeHTTP handles websocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	now := time.Now()
	client := &Client{
		conn:        conn,
		send:        make(chan []byte, 256),
		hub:         h,
		sessionID:   uuid.New().String(),
		connectedAt: now,
		lastSeen:    now,
	}

	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		return
	}

	welcome := &Message{
		Type:      "connection_established",
		Timestamp: now,
		Data: map[string]interface{}{
			"session_id": client.sessionID,
			"message":    "Connected to BCI Confusion Monitor",
			"threshold":  h.state.Threshold(),
		},
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.enqueueFrame(data)
	}

	go client.writePump()
	go client.readPump()
}

// BroadcastConfusionUpdate implements monitor.Broadcaster.
func (h *Hub) BroadcastConfusionUpdate(level float64, trend string, threshold float64) {
	h.enqueue(&Message{
		Type:      "confusion_update",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"confusion_level": level,
			"trend":           trend,
			"threshold":       threshold,
			"above_threshold": level >= threshold,
		},
	})
}

// BroadcastBrainActivity implements monitor.Broadcaster.
func (h *Hub) BroadcastBrainActivity(bandPowers map[string]float64, quality map[string]float64) {
	h.enqueue(&Message{
		Type:      "brain_activity",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"band_powers":    bandPowers,
			"signal_quality": quality,
		},
	})
}

// BroadcastAdvisory implements monitor.Broadcaster.
func (h *Hub) BroadcastAdvisory(advice *advisory.Advice) {
	if advice == nil {
		return
	}
	h.enqueue(&Message{
		Type:      "advisory",
		Timestamp: time.Now(),
		Data:      advice,
	})
}

// BroadcastDeviceStatus implements monitor.Broadcaster.
func (h *Hub) BroadcastDeviceStatus(connected bool, info bci.DeviceInfo) {
	h.enqueue(&Message{
		Type:      "bci_status",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"connected":   connected,
			"device_info": info,
		},
	})
}

// BroadcastStatus pushes the current monitor status to all clients.
func (h *Hub) BroadcastStatus() {
	h.enqueue(&Message{
		Type:      "status_update",
		Timestamp: time.Now(),
		Data:      h.statusData(),
	})
}

func (h *Hub) statusData() map[string]interface{} {
	data := map[string]interface{}{
		"connected":       h.state.Connected(),
		"confusion_level": h.state.ConfusionLevel(),
		"trend":           h.state.Trend(),
		"threshold":       h.state.Threshold(),
		"clients":         h.GetConnectedClients(),
	}
	if h.stats != nil {
		stats := h.stats()
		data["scoring"] = stats.Scoring
		data["device"] = stats.Device
		data["session_id"] = stats.SessionID
	}
	return data
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		metrics.WSBroadcastsDropped.Inc()
		h.logger.WithField("type", message.Type).Warn("Broadcast channel full, dropping message")
	}
}

// GetConnectedClients returns the number of connected clients.
func (h *Hub) GetConnectedClients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Client methods

// readPump handles incoming messages from the client.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Debug("WebSocket read error")
			}
			break
		}

		c.touch()
		c.handleMessage(message)
	}
}

// writePump handles sending messages to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into the same websocket frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// handleMessage processes incoming client messages.
func (c *Client) handleMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.logger.WithError(err).Debug("Failed to parse client message")
		return
	}

	msgType, _ := msg["type"].(string)

	switch msgType {
	case "set_threshold":
		threshold, ok := msg["threshold"].(float64)
		if !ok {
			c.reply(map[string]interface{}{
				"type":  "error",
				"error": "threshold must be a number",
			})
			return
		}
		c.hub.state.SetThreshold(threshold)
		c.hub.logger.WithFields(logrus.Fields{
			"session_id": c.sessionID,
			"threshold":  c.hub.state.Threshold(),
		}).Info("Advisory threshold updated")
		// Every client sees the new threshold, not just the sender.
		c.hub.enqueue(&Message{
			Type:      "threshold_updated",
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"threshold": c.hub.state.Threshold(),
			},
		})

	case "request_status":
		c.reply(map[string]interface{}{
			"type":      "status_update",
			"timestamp": time.Now(),
			"data":      c.hub.statusData(),
		})

	case "ping":
		c.reply(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now(),
		})

	default:
		c.hub.logger.WithField("type", msgType).Debug("Unknown message type from client")
	}
}

func (c *Client) reply(payload map[string]interface{}) {
	if data, err := json.Marshal(payload); err == nil {
		c.enqueueFrame(data)
	}
}

// enqueueFrame queues a frame for the client without blocking. The hub
// closes the send channel when it evicts a client; a late reply from the
// client's own readPump must not land on the closed channel, so the send
// and the eviction are serialized on the client mutex.
func (c *Client) enqueueFrame(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
