package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// Frame is the envelope exchanged on the chat WebSocket.
type Frame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	ID        string        `json:"id,omitempty"`
	Text      string        `json:"text,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
}

const (
	FrameSession = "session"
	FrameMessage = "message"
	FrameError   = "error"
)

// WSTransport dials the desk's chat WebSocket. The server answers with a session
// frame before any message frames.
type WSTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

func (t WSTransport) Connect(ctx context.Context, sessionID string) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	if sessionID != "" {
		q := u.Query()
		q.Set("sessionId", sessionID)
		u.RawQuery = q.Encode()
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	var hello Frame
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read session frame: %w", err)
	}
	if hello.Type != FrameSession || hello.SessionID == "" {
		ws.Close()
		if hello.Error != "" {
			return nil, errors.New(hello.Error)
		}
		return nil, fmt.Errorf("unexpected first frame %q", hello.Type)
	}

	c := &wsConn{
		ws:        ws,
		sessionID: hello.SessionID,
		messages:  make(chan chat.Message, 64),
		done:      make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

type wsConn struct {
	ws        *websocket.Conn
	sessionID string
	messages  chan chat.Message
	done      chan struct{}

	writeMu sync.Mutex

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (c *wsConn) SessionID() string             { return c.sessionID }
func (c *wsConn) Messages() <-chan chat.Message { return c.messages }
func (c *wsConn) Done() <-chan struct{}         { return c.done }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Send(ctx context.Context, msg chat.Message) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteJSON(Frame{Type: FrameMessage, ID: msg.ID, Text: msg.Text})
}

// Close sends a normal closure so the server does not treat it as a drop.
func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return c.ws.Close()
}

func (c *wsConn) readPump() {
	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			c.shutdown(err)
			return
		}

		switch frame.Type {
		case FrameMessage:
			if frame.Message == nil {
				continue
			}
			select {
			case c.messages <- *frame.Message:
			case <-c.done:
				return
			}
		case FrameError:
			c.mu.Lock()
			c.err = errors.New(frame.Error)
			c.mu.Unlock()
		}
	}
}

func (c *wsConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if err != nil {
			c.err = err
		}
		c.mu.Unlock()
		close(c.done)
	})
}
