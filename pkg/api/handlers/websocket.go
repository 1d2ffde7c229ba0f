package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goclaw/simnet/pkg/api/events"
	"github.com/goclaw/simnet/pkg/logger"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultSendBuffer       = 64
	forwardBuffer           = 256
)

var errConnectionLimit = errors.New("websocket connection limit reached")

// WebSocketMetrics receives client counts and forced disconnects.
type WebSocketMetrics interface {
	SetWebSocketClients(n int)
	RecordWebSocketDisconnect(reason string)
}

type nopWebSocketMetrics struct{}

func (nopWebSocketMetrics) SetWebSocketClients(int)          {}
func (nopWebSocketMetrics) RecordWebSocketDisconnect(string) {}

// WebSocketConfig configures websocket handler behavior.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	Metrics        WebSocketMetrics
}

// Client messages are {"type":"subscribe","run_id":"..."} and
// {"type":"unsubscribe","run_id":"..."}.
type incomingMessage struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	runs      map[string]struct{}
	mu        sync.RWMutex
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, defaultSendBuffer),
		runs: make(map[string]struct{}),
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *wsClient) subscribe(runID string) {
	if runID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[runID] = struct{}{}
}

func (c *wsClient) unsubscribe(runID string) {
	if runID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, runID)
}

// wants reports whether the client receives events of runID. A client
// without subscriptions receives everything.
func (c *wsClient) wants(runID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.runs) == 0 {
		return true
	}
	_, ok := c.runs[runID]
	return ok
}

// ConnectionManager manages active websocket clients.
type ConnectionManager struct {
	mu             sync.RWMutex
	clients        map[*wsClient]struct{}
	maxConnections int
	metrics        WebSocketMetrics
}

// NewConnectionManager creates a manager with max connection limit.
func NewConnectionManager(maxConnections int) *ConnectionManager {
	if maxConnections <= 0 {
		maxConnections = defaultWSMaxConnections
	}
	return &ConnectionManager{
		clients:        make(map[*wsClient]struct{}),
		maxConnections: maxConnections,
		metrics:        nopWebSocketMetrics{},
	}
}

// Register registers a websocket client.
func (m *ConnectionManager) Register(client *wsClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) >= m.maxConnections {
		m.metrics.RecordWebSocketDisconnect("limit")
		return errConnectionLimit
	}
	m.clients[client] = struct{}{}
	m.metrics.SetWebSocketClients(len(m.clients))
	return nil
}

// Unregister removes a client and closes it.
func (m *ConnectionManager) Unregister(client *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client]; !ok {
		return
	}
	delete(m.clients, client)
	m.metrics.SetWebSocketClients(len(m.clients))
	client.close()
}

// Count returns active connection count.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CanAccept reports whether there is capacity for one more connection.
func (m *ConnectionManager) CanAccept() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients) < m.maxConnections
}

// Broadcast sends event to every client interested in its run. Clients
// that cannot keep up are disconnected.
func (m *ConnectionManager) Broadcast(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.mu.RLock()
	clients := make([]*wsClient, 0, len(m.clients))
	for client := range m.clients {
		clients = append(clients, client)
	}
	m.mu.RUnlock()

	for _, client := range clients {
		if !client.wants(event.RunID) {
			continue
		}
		if !m.deliver(client, payload) {
			m.metrics.RecordWebSocketDisconnect("slow")
			m.Unregister(client)
		}
	}
	return nil
}

// deliver queues payload without blocking. The read lock keeps Unregister
// from closing the channel mid-send.
func (m *ConnectionManager) deliver(client *wsClient, payload []byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.clients[client]; !ok {
		return true
	}
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// Close closes all active websocket connections.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		client.close()
		delete(m.clients, client)
	}
	m.metrics.SetWebSocketClients(0)
}

// WebSocketHandler streams run events over /ws.
type WebSocketHandler struct {
	log          logger.Logger
	manager      *ConnectionManager
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler creates a websocket handler.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if log == nil {
		log = logger.Global()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultWSMaxConnections
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	manager := NewConnectionManager(cfg.MaxConnections)
	if cfg.Metrics != nil {
		manager.metrics = cfg.Metrics
	}
	h := &WebSocketHandler{
		log:          log,
		manager:      manager,
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: cfg.WriteTimeout,
	}

	allowedOrigins := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return isWebSocketOriginAllowed(r, allowedOrigins)
		},
	}
	return h
}

// ServeHTTP upgrades the connection. Repeated ?run_id= parameters
// subscribe the client up front.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.manager.CanAccept() {
		http.Error(w, errConnectionLimit.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	for _, id := range r.URL.Query()["run_id"] {
		client.subscribe(strings.TrimSpace(id))
	}
	if err := h.manager.Register(client); err != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many websocket connections"),
			time.Now().Add(h.writeTimeout),
		)
		_ = conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

func (h *WebSocketHandler) readPump(client *wsClient) {
	defer h.manager.Unregister(client)

	readDeadline := h.pingInterval + h.pongTimeout
	client.conn.SetReadLimit(64 << 10)
	_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", "error", err)
			}
			return
		}
		h.handleIncomingMessage(client, data)
	}
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.manager.Unregister(client)
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout),
				)
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleIncomingMessage(client *wsClient, raw []byte) {
	var msg incomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	runID := strings.TrimSpace(msg.RunID)
	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "subscribe":
		client.subscribe(runID)
	case "unsubscribe":
		client.unsubscribe(runID)
	}
}

// Broadcast sends an event to matching websocket clients.
func (h *WebSocketHandler) Broadcast(event events.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return h.manager.Broadcast(event)
}

// Forward relays events from b until ctx is done or b is closed.
func (h *WebSocketHandler) Forward(ctx context.Context, b *events.Broadcaster) {
	ch := b.Subscribe(forwardBuffer)
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := h.Broadcast(event); err != nil {
				h.log.Warn("websocket broadcast failed", "type", event.Type, "run_id", event.RunID, "error", err)
			}
		}
	}
}

// Connections returns the number of open connections.
func (h *WebSocketHandler) Connections() int {
	return h.manager.Count()
}

// Close closes all websocket clients.
func (h *WebSocketHandler) Close() {
	h.manager.Close()
}

func isWebSocketOriginAllowed(r *http.Request, allowedOrigins []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}
