package chatclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/chatclient"
	"github.com/zhouzirui/supportdesk/backend/internal/service/network"
	"github.com/zhouzirui/supportdesk/backend/internal/service/queue"
	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	id       string
	messages chan chat.Message
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	sent    []chat.Message
	sendErr error
	err     error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, messages: make(chan chat.Message, 8), done: make(chan struct{})}
}

func (c *fakeConn) SessionID() string             { return c.id }
func (c *fakeConn) Messages() <-chan chat.Message { return c.messages }
func (c *fakeConn) Done() <-chan struct{}         { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Send(_ context.Context, msg chat.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Sent() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.sent...)
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.Close()
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  func(attempt int) error
}

func (t *fakeTransport) Connect(_ context.Context, sessionID string) (chatclient.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempt := len(t.conns) + 1
	if t.fail != nil {
		if err := t.fail(attempt); err != nil {
			t.conns = append(t.conns, nil)
			return nil, err
		}
	}
	if sessionID == "" {
		sessionID = "session-1"
	}
	conn := newFakeConn(sessionID)
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleeps) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type harness struct {
	client    *chatclient.Client
	transport *fakeTransport
	monitor   *network.Monitor
	queue     *queue.Queue
	sleeps    *recordedSleeps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		monitor:   network.NewMonitor(nil, config.NetworkConfig{ProbeTimeout: time.Second}, nil, nil),
		sleeps:    &recordedSleeps{},
	}
	h.queue = queue.New(context.Background(), store.NewMemory(), config.QueueConfig{
		MaxRetries:   3,
		SendInterval: time.Millisecond,
		SentGrace:    time.Hour,
		StorageKey:   "queue",
	}, nil, queue.WithSendInterval(time.Millisecond))
	t.Cleanup(h.queue.Close)

	h.client = chatclient.New(h.transport, h.monitor, h.queue,
		config.ClientConfig{MaxReconnects: 3, ReconnectBase: time.Second}, nil,
		chatclient.WithSleep(h.sleeps.sleep))
	t.Cleanup(func() { _ = h.client.Close() })
	return h
}

func TestOfflineSendIsQueuedAndDrainedOnReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.monitor.Report(false)
	require.NoError(t, h.client.Connect(ctx, ""))

	msg, err := h.client.SendMessage(ctx, "  is sync down?  ")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusPending, msg.Status)
	assert.Equal(t, "is sync down?", msg.Text)
	assert.NotEmpty(t, msg.QueueID)
	assert.Empty(t, h.transport.conn(0).Sent(), "no network call while offline")
	assert.Equal(t, queue.Status{Total: 1, Pending: 1}, h.client.QueueStatus())

	h.monitor.Report(true)
	require.Eventually(t, func() bool { return len(h.transport.conn(0).Sent()) == 1 }, time.Second, 5*time.Millisecond)

	sent := h.transport.conn(0).Sent()[0]
	assert.Equal(t, msg.ID, sent.ID)
	assert.Equal(t, "session-1", sent.SessionID)
	require.Eventually(t, func() bool {
		queued, ok := h.queue.Get(msg.QueueID)
		return ok && queued.Status == chat.StatusSent
	}, time.Second, 5*time.Millisecond)
}

func TestOnlineSendFailureIsQueuedAsFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.monitor.Report(true)
	require.NoError(t, h.client.Connect(ctx, ""))

	conn := h.transport.conn(0)
	conn.mu.Lock()
	conn.sendErr = errors.New("broken pipe")
	conn.mu.Unlock()

	msg, err := h.client.SendMessage(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusFailed, msg.Status)

	queued, ok := h.queue.Get(msg.QueueID)
	require.True(t, ok)
	assert.Equal(t, chat.StatusFailed, queued.Status)
	assert.Equal(t, msg.ID, queued.MessageID)
}

func TestSendWithoutConnectionIsQueued(t *testing.T) {
	h := newHarness(t)
	h.monitor.Report(true)

	msg, err := h.client.SendMessage(context.Background(), "anyone there?")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusFailed, msg.Status)
	assert.Equal(t, 1, h.queue.Size())
}

func TestSendRejectsEmptyText(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, chatclient.ErrTextRequired)
	assert.Zero(t, h.queue.Size())
}

func TestSuccessfulSendIsMarkedSent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.monitor.Report(true)
	require.NoError(t, h.client.Connect(ctx, "session-7"))

	msg, err := h.client.SendMessage(ctx, "pricing?")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusSent, msg.Status)
	assert.Equal(t, "session-7", msg.SessionID)
	assert.Zero(t, h.queue.Size())
	require.Len(t, h.transport.conn(0).Sent(), 1)
}

func TestIncomingMessagesReachSubscribers(t *testing.T) {
	h := newHarness(t)
	var got atomic.Value
	h.client.OnMessage(func(m chat.Message) { got.Store(m.Text) })

	require.NoError(t, h.client.Connect(context.Background(), ""))
	h.transport.conn(0).messages <- chat.Message{Text: "Hi there", Sender: chat.SenderAgent}

	require.Eventually(t, func() bool { return got.Load() == "Hi there" }, time.Second, 5*time.Millisecond)
}

func TestReconnectsAfterDrop(t *testing.T) {
	h := newHarness(t)
	var states []chatclient.State
	var mu sync.Mutex
	h.client.OnStatusChange(func(s chatclient.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, h.client.Connect(context.Background(), "session-9"))
	h.transport.conn(0).drop(errors.New("abnormal closure"))

	require.Eventually(t, func() bool { return h.transport.attempts() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.client.State() == chatclient.StateConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps.all())
	assert.Equal(t, "session-9", h.transport.conn(1).SessionID())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []chatclient.State{
		chatclient.StateConnecting,
		chatclient.StateConnected,
		chatclient.StateReconnecting,
		chatclient.StateConnected,
	}, states)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.transport.fail = func(attempt int) error {
		if attempt > 1 {
			return errors.New("connection refused")
		}
		return nil
	}

	require.NoError(t, h.client.Connect(context.Background(), ""))
	h.transport.conn(0).drop(errors.New("abnormal closure"))

	require.Eventually(t, func() bool { return h.client.State() == chatclient.StateError }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, h.transport.attempts())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, h.sleeps.all())
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Connect(context.Background(), ""))

	require.NoError(t, h.client.Disconnect())
	assert.Equal(t, chatclient.StateDisconnected, h.client.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.transport.attempts())
	assert.Empty(t, h.sleeps.all())
}

func TestConnectFailureSetsError(t *testing.T) {
	h := newHarness(t)
	h.transport.fail = func(int) error { return errors.New("refused") }

	err := h.client.Connect(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, chatclient.StateError, h.client.State())
}

func TestClosedClientRejectsConnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.Close())
	assert.ErrorIs(t, h.client.Connect(context.Background(), ""), chatclient.ErrClientClosed)
}

func TestConnectDrainsFailedMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.monitor.Report(true)

	msg, err := h.client.SendMessage(ctx, "retry me")
	require.NoError(t, err)
	require.Equal(t, chat.StatusFailed, msg.Status)

	require.NoError(t, h.client.Connect(ctx, ""))
	require.Eventually(t, func() bool { return len(h.transport.conn(0).Sent()) == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		queued, ok := h.queue.Get(msg.QueueID)
		return ok && queued.Status == chat.StatusSent
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.client.Retry(ctx, msg.QueueID), "retrying a delivered message is a no-op")
	assert.Len(t, h.transport.conn(0).Sent(), 1)
	queued, ok := h.queue.Get(msg.QueueID)
	require.True(t, ok)
	assert.Equal(t, chat.StatusSent, queued.Status)
}

func TestWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" {
			sessionID = "ws-session"
		}
		if err := ws.WriteJSON(chatclient.Frame{Type: chatclient.FrameSession, SessionID: sessionID}); err != nil {
			return
		}
		for {
			var in chatclient.Frame
			if err := ws.ReadJSON(&in); err != nil {
				return
			}
			reply := chat.Message{ID: "r-" + in.ID, SessionID: sessionID, Text: "echo: " + in.Text, Sender: chat.SenderAgent}
			if err := ws.WriteJSON(chatclient.Frame{Type: chatclient.FrameMessage, Message: &reply}); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	transport := chatclient.WSTransport{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	conn, err := transport.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "ws-session", conn.SessionID())

	require.NoError(t, conn.Send(context.Background(), chat.Message{ID: "m1", Text: "ping"}))
	select {
	case reply := <-conn.Messages():
		assert.Equal(t, "echo: ping", reply.Text)
		assert.Equal(t, "r-m1", reply.ID)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}

	require.NoError(t, conn.Close())
	<-conn.Done()
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.Send(context.Background(), chat.Message{Text: "late"}), chatclient.ErrNotConnected)
}

func TestHTTPTransport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"http-session","status":"active"}`))
	})
	mux.HandleFunc("GET /chat/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sessionId") != "known" {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"known","status":"active"}`))
	})
	mux.HandleFunc("POST /chat/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sessionId":"http-session","responses":[{"id":"a1","text":"Reflect Pro is $10/month","sender":"agent","type":"text"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	transport := chatclient.HTTPTransport{BaseURL: srv.URL, Client: srv.Client()}
	ctx := context.Background()

	_, err := transport.Connect(ctx, "missing")
	require.Error(t, err)

	known, err := transport.Connect(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, "known", known.SessionID())
	require.NoError(t, known.Close())

	conn, err := transport.Connect(ctx, "")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "http-session", conn.SessionID())

	require.NoError(t, conn.Send(ctx, chat.Message{Text: "price?"}))
	reply := <-conn.Messages()
	assert.Equal(t, "Reflect Pro is $10/month", reply.Text)
}
