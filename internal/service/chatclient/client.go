// Package chatclient is the visitor-side chat facade: it tracks the connection,
// routes messages through the offline queue and fans events out to subscribers.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/eventbus"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/network"
	"github.com/zhouzirui/supportdesk/backend/internal/service/queue"
)

var (
	ErrNotConnected = errors.New("chat client is not connected")
	ErrTextRequired = errors.New("message text is required")
	ErrClientClosed = errors.New("chat client is closed")
)

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Client is safe for concurrent use.
type Client struct {
	transport Transport
	monitor   *network.Monitor
	queue     *queue.Queue
	cfg       config.ClientConfig
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	conn      Conn
	sessionID string
	gen       uint64
	closed    bool

	messages      *eventbus.Bus[chat.Message]
	states        *eventbus.Bus[State]
	stopNetworkFn func()
}

// Option customises a Client.
type Option func(*Client)

// WithSleep replaces the reconnect backoff sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// New wires a client to its transport, network monitor and queue. Queued messages
// are drained whenever the monitor reports online and after every (re)connect.
func New(transport Transport, monitor *network.Monitor, q *queue.Queue, cfg config.ClientConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("chatclient")

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: transport,
		monitor:   monitor,
		queue:     q,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepContext,
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		messages:  eventbus.New[chat.Message]("chatclient.messages", logger),
		states:    eventbus.New[State]("chatclient.states", logger),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.stopNetworkFn = monitor.OnChange(func(status network.Status) {
		if status == network.StatusOnline {
			c.drain()
		}
	})
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session of the current or last connection.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect opens a connection for sessionID, or a new session when it is empty.
// It is a no-op while already connected or connecting.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	conn, err := c.transport.Connect(ctx, sessionID)
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("connect: %w", err)
	}
	c.attach(conn)
	return nil
}

// SendMessage never blocks on the network while offline: the message is queued as
// pending and returned immediately. Online delivery failures are queued as failed.
func (c *Client) SendMessage(ctx context.Context, text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrTextRequired
	}

	c.mu.Lock()
	conn, sessionID := c.conn, c.sessionID
	c.mu.Unlock()

	msg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Text:      text,
		Sender:    chat.SenderUser,
		Timestamp: c.now(),
	}

	if c.monitor.IsOffline() {
		queued := c.queue.Enqueue(ctx, text, sessionID, queue.WithMessageID(msg.ID))
		msg.Status, msg.QueueID = chat.StatusPending, queued.ID
		return msg, nil
	}

	msg.Status = chat.StatusSending
	if err := deliver(ctx, conn, msg); err != nil {
		c.logger.Warn("send failed, queued for retry", zap.String("message", msg.ID), zap.Error(err))
		queued := c.queue.Enqueue(ctx, text, sessionID, queue.WithMessageID(msg.ID), queue.WithStatus(chat.StatusFailed))
		msg.Status, msg.QueueID = chat.StatusFailed, queued.ID
		return msg, nil
	}
	msg.Status = chat.StatusSent
	return msg, nil
}

// Retry re-sends one failed queue entry.
func (c *Client) Retry(ctx context.Context, queueID string) error {
	return c.queue.Retry(ctx, queueID, c.sendQueued)
}

// ProcessQueue drains the queue now.
func (c *Client) ProcessQueue(ctx context.Context) error {
	return c.queue.ProcessQueue(ctx, c.sendQueued)
}

// QueueStatus summarises the queue.
func (c *Client) QueueStatus() queue.Status { return c.queue.Status() }

// ClearQueue drops every queued message.
func (c *Client) ClearQueue(ctx context.Context) { c.queue.Clear(ctx) }

// CheckConnection probes reachability immediately.
func (c *Client) CheckConnection(ctx context.Context) bool { return c.monitor.Check(ctx) }

// Disconnect closes the connection normally; no reconnect is attempted.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	c.setState(StateDisconnected)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Close disconnects and stops background work. The queue is left to its owner.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Disconnect()
	c.stopNetworkFn()
	c.cancel()
	c.wg.Wait()
	return err
}

// OnMessage subscribes to messages pushed by the desk.
func (c *Client) OnMessage(fn func(chat.Message)) (unsubscribe func()) {
	return c.messages.Subscribe(fn)
}

// OnStatusChange subscribes to connection state changes.
func (c *Client) OnStatusChange(fn func(State)) (unsubscribe func()) {
	return c.states.Subscribe(fn)
}

// OnNetworkChange subscribes to network status changes.
func (c *Client) OnNetworkChange(fn func(network.Status)) (unsubscribe func()) {
	return c.monitor.OnChange(fn)
}

// OnQueueSizeChange subscribes to queue size changes.
func (c *Client) OnQueueSizeChange(fn func(int)) (unsubscribe func()) {
	return c.queue.OnSizeChange(fn)
}

func (c *Client) attach(conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.sessionID = conn.SessionID()
	c.gen++
	c.wg.Add(1)
	c.mu.Unlock()

	c.setState(StateConnected)
	go c.readLoop(conn)
	c.drain()
}

func (c *Client) readLoop(conn Conn) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-conn.Messages():
			if !ok {
				c.handleDrop(conn)
				return
			}
			c.messages.Publish(msg)
		case <-conn.Done():
			c.handleDrop(conn)
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handleDrop(conn Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// Disconnect or a newer connection already replaced it.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.logger.Warn("connection dropped", zap.String("session", conn.SessionID()), zap.Error(conn.Err()))
	c.reconnect(conn.SessionID(), gen)
}

// reconnect waits ReconnectBase × attempt before each try.
func (c *Client) reconnect(sessionID string, gen uint64) {
	for attempt := 1; attempt <= c.cfg.MaxReconnects; attempt++ {
		c.setState(StateReconnecting)
		if err := c.sleep(c.ctx, time.Duration(attempt)*c.cfg.ReconnectBase); err != nil {
			return
		}
		if !c.current(gen) {
			return
		}

		conn, err := c.transport.Connect(c.ctx, sessionID)
		if err != nil {
			c.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if !c.current(gen) {
			_ = conn.Close()
			return
		}
		c.attach(conn)
		return
	}
	c.setState(StateError)
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.gen == gen
}

func (c *Client) drain() {
	if c.monitor.IsOffline() {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.queue.ProcessQueue(c.ctx, c.sendQueued); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("queue drain stopped", zap.Error(err))
		}
	}()
}

func (c *Client) sendQueued(ctx context.Context, m queue.QueuedMessage) error {
	c.mu.Lock()
	conn, sessionID := c.conn, c.sessionID
	c.mu.Unlock()

	if m.SessionID != "" {
		sessionID = m.SessionID
	}
	return deliver(ctx, conn, chat.Message{
		ID:        m.MessageID,
		SessionID: sessionID,
		Text:      m.Text,
		Sender:    chat.SenderUser,
		Timestamp: m.Timestamp,
		Status:    chat.StatusSending,
		QueueID:   m.ID,
	})
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.logger.Debug("connection state changed", zap.String("state", string(state)))
	c.states.Publish(state)
}

func deliver(ctx context.Context, conn Conn, msg chat.Message) error {
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
