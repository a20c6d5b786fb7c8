package desk

import (
	"context"
	"sync"

	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/chatclient"
)

// LocalTransport connects a chat client to an in-process Desk.
type LocalTransport struct {
	Desk *Desk
}

func (t LocalTransport) Connect(ctx context.Context, sessionID string) (chatclient.Conn, error) {
	if sessionID == "" {
		session, err := t.Desk.Sessions().CreateSession(ctx, chatsvc.CreateParams{})
		if err != nil {
			return nil, err
		}
		sessionID = session.ID
	} else if _, err := t.Desk.Sessions().GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	c := &localConn{
		desk:      t.Desk,
		sessionID: sessionID,
		messages:  make(chan chat.Message, 64),
		done:      make(chan struct{}),
	}
	c.unsubscribe = t.Desk.OnMessage(c.forward)
	return c, nil
}

type localConn struct {
	desk        *Desk
	sessionID   string
	messages    chan chat.Message
	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

func (c *localConn) SessionID() string             { return c.sessionID }
func (c *localConn) Messages() <-chan chat.Message { return c.messages }
func (c *localConn) Done() <-chan struct{}         { return c.done }
func (c *localConn) Err() error                    { return nil }

func (c *localConn) Send(ctx context.Context, msg chat.Message) error {
	select {
	case <-c.done:
		return chatclient.ErrNotConnected
	default:
	}
	_, err := c.desk.Exchange(ctx, c.sessionID, msg.Text)
	return err
}

func (c *localConn) Close() error {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		close(c.done)
	})
	return nil
}

// forward skips the visitor's own messages; the client already holds them.
func (c *localConn) forward(msg chat.Message) {
	if msg.SessionID != c.sessionID || msg.Sender == chat.SenderUser {
		return
	}
	select {
	case c.messages <- msg:
	case <-c.done:
	}
}
