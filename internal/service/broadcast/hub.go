// Package broadcast fans generated dashboard metrics out to WebSocket subscribers.
package broadcast

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
)

// Envelope is the frame written to every connection.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Outbound control frames.
const (
	TypeConnectionEstablished = "connection_established"
	TypeInitResponse          = "init_response"
	TypeSubscriptionUpdate    = "subscription_update"
	TypePong                  = "pong"
)

// Conn is the write side of one client connection. WriteJSON is only called from
// the client's writer goroutine; Ping may be called concurrently with it.
type Conn interface {
	WriteJSON(v any) error
	Ping() error
	Close() error
}

// ClientInfo is the public view of a registered connection.
type ClientInfo struct {
	ID            string   `json:"id"`
	Subscriptions []string `json:"subscriptions"`
	Connected     bool     `json:"connected"`
}

const sendBuffer = 32

type client struct {
	id   string
	conn Conn
	send chan Envelope
	done chan struct{}
	once sync.Once

	// guarded by Hub.mu
	alive         bool
	subscriptions []string
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Hub is the registry of open connections and their subscriptions.
type Hub struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger.Named("broadcast"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		clients: make(map[string]*client),
	}
}

// Register adds conn subscribed to every topic and greets it with its client id.
// An empty id is replaced with a generated one.
func (h *Hub) Register(id string, conn Conn) string {
	if id == "" {
		id = uuid.NewString()
	}
	c := &client{
		id:            id,
		conn:          conn,
		send:          make(chan Envelope, sendBuffer),
		done:          make(chan struct{}),
		alive:         true,
		subscriptions: slices.Clone(Topics),
	}

	h.mu.Lock()
	if old, ok := h.clients[id]; ok {
		old.stop()
	}
	h.clients[id] = c
	n := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()

	go h.writePump(c)
	h.metrics.SetBroadcastClients(n)
	h.logger.Info("client connected", zap.String("client", id), zap.Int("clients", n))

	h.enqueue(c, Envelope{Type: TypeConnectionEstablished, Data: map[string]any{
		"clientId":  id,
		"message":   "Connected to WebSocket server",
		"timestamp": h.now().Format(time.RFC3339Nano),
	}})
	return id
}

// Unregister removes the client and closes its connection. It does nothing when
// id has since been registered again with a different connection.
func (h *Hub) Unregister(id string, conn Conn) {
	if c := h.client(id); c != nil && c.conn == conn {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.id]
	if ok && current == c {
		delete(h.clients, c.id)
	}
	n := len(h.clients)
	h.mu.Unlock()

	c.stop()
	if !ok || current != c {
		return
	}
	h.metrics.SetBroadcastClients(n)
	h.logger.Info("client disconnected", zap.String("client", c.id), zap.Int("clients", n))
}

type inbound struct {
	Type     string   `json:"type"`
	ClientID string   `json:"clientId"`
	Channels []string `json:"channels"`
}

// HandleInbound processes one frame read from the client. Malformed and unknown
// frames are logged and ignored.
func (h *Hub) HandleInbound(id string, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warn("unreadable client frame", zap.String("client", id), zap.Error(err))
		return
	}

	c := h.client(id)
	if c == nil {
		return
	}

	switch msg.Type {
	case "init":
		clientID := msg.ClientID
		if clientID == "" {
			clientID = id
		}
		h.enqueue(c, Envelope{Type: TypeInitResponse, Data: map[string]any{
			"status":     "connected",
			"clientId":   clientID,
			"serverTime": h.now().Format(time.RFC3339Nano),
		}})
	case "subscribe":
		if msg.Channels == nil {
			return
		}
		subs := h.Subscribe(id, msg.Channels)
		h.enqueue(c, Envelope{Type: TypeSubscriptionUpdate, Data: map[string]any{
			"subscriptions": subs,
			"message":       "Subscription updated",
		}})
	case "ping":
		h.MarkAlive(id)
		h.enqueue(c, Envelope{Type: TypePong, Data: map[string]any{
			"timestamp": h.now().Format(time.RFC3339Nano),
		}})
	default:
		h.logger.Debug("unknown client frame", zap.String("client", id), zap.String("type", msg.Type))
	}
}

// Subscribe replaces the client's subscription set and returns it.
func (h *Hub) Subscribe(id string, channels []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return nil
	}
	c.subscriptions = slices.Clone(channels)
	return slices.Clone(c.subscriptions)
}

// Broadcast sends data to every client subscribed to topic and returns how many
// clients it was queued for.
func (h *Hub) Broadcast(topic string, data any) int {
	env := Envelope{Type: topic, Data: data}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if slices.Contains(c.subscriptions, topic) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		if h.enqueue(c, env) {
			delivered++
		}
	}
	h.metrics.RecordBroadcast(topic, delivered)
	return delivered
}

// MarkAlive records a heartbeat reply.
func (h *Hub) MarkAlive(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		c.alive = true
	}
}

// Heartbeat evicts clients that did not answer the previous ping, then pings
// the rest.
func (h *Hub) Heartbeat() {
	var dead, ping []*client

	h.mu.Lock()
	for id, c := range h.clients {
		if !c.alive {
			delete(h.clients, id)
			dead = append(dead, c)
			continue
		}
		c.alive = false
		ping = append(ping, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	for _, c := range dead {
		h.logger.Info("evicting unresponsive client", zap.String("client", c.id))
		h.metrics.RecordEviction()
		c.stop()
	}
	if len(dead) > 0 {
		h.metrics.SetBroadcastClients(n)
	}

	for _, c := range ping {
		if err := c.conn.Ping(); err != nil {
			h.logger.Debug("ping failed", zap.String("client", c.id), zap.Error(err))
		}
	}
}

// Clients lists the registered connections.
func (h *Hub) Clients() []ClientInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, ClientInfo{
			ID:            c.id,
			Subscriptions: slices.Clone(c.subscriptions),
			Connected:     true,
		})
	}
	slices.SortFunc(out, func(a, b ClientInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	h.wg.Wait()
	h.metrics.SetBroadcastClients(0)
}

func (h *Hub) client(id string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[id]
}

// enqueue drops the frame when the client's buffer is full.
func (h *Hub) enqueue(c *client, env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		h.logger.Warn("client too slow, dropping frame", zap.String("client", c.id), zap.String("type", env.Type))
		return false
	}
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	for {
		select {
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				h.logger.Debug("write failed", zap.String("client", c.id), zap.Error(err))
				h.remove(c)
				return
			}
		case <-c.done:
			return
		}
	}
}
