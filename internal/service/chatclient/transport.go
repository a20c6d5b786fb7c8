package chatclient

import (
	"context"

	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// Transport opens a connection to the support desk for one session.
// An empty sessionID asks the desk to open a new session.
type Transport interface {
	Connect(ctx context.Context, sessionID string) (Conn, error)
}

// Conn is a live connection. Messages carries replies pushed by the desk; Done is
// closed when the connection drops or is closed, after which Err reports why.
type Conn interface {
	SessionID() string
	Send(ctx context.Context, msg chat.Message) error
	Messages() <-chan chat.Message
	Done() <-chan struct{}
	Err() error
	Close() error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, sessionID string) (Conn, error)

func (f TransportFunc) Connect(ctx context.Context, sessionID string) (Conn, error) {
	return f(ctx, sessionID)
}
