package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// HTTPTransport talks to the desk's REST endpoints. Replies to a sent message
// arrive on Messages once the POST returns.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

func (t HTTPTransport) Connect(ctx context.Context, sessionID string) (Conn, error) {
	var session chat.Session
	if sessionID == "" {
		if err := t.do(ctx, http.MethodPost, "/chat/sessions", map[string]any{}, &session); err != nil {
			return nil, err
		}
	} else {
		path := "/chat/sessions?sessionId=" + url.QueryEscape(sessionID)
		if err := t.do(ctx, http.MethodGet, path, nil, &session); err != nil {
			return nil, err
		}
	}

	return &httpConn{
		transport: t,
		sessionID: session.ID,
		messages:  make(chan chat.Message, 64),
		done:      make(chan struct{}),
	}, nil
}

func (t HTTPTransport) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(t.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type httpConn struct {
	transport HTTPTransport
	sessionID string
	messages  chan chat.Message
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

func (c *httpConn) SessionID() string             { return c.sessionID }
func (c *httpConn) Messages() <-chan chat.Message { return c.messages }
func (c *httpConn) Done() <-chan struct{}         { return c.done }
func (c *httpConn) Err() error                    { return nil }

func (c *httpConn) Send(ctx context.Context, msg chat.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	var exchange struct {
		Responses []chat.Message `json:"responses"`
	}
	body := map[string]string{"sessionId": c.sessionID, "text": msg.Text}
	if err := c.transport.do(ctx, http.MethodPost, "/chat/messages", body, &exchange); err != nil {
		return err
	}

	for _, reply := range exchange.Responses {
		select {
		case c.messages <- reply:
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *httpConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
