package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	model "github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/chatclient"
	"github.com/zhouzirui/supportdesk/backend/internal/service/desk"
	"github.com/zhouzirui/supportdesk/backend/internal/service/handoff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/resolve"
	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

func setupRouter(t *testing.T) (*chi.Mux, *desk.Desk) {
	t.Helper()
	cfg := config.Defaults()
	sessions, err := chatsvc.NewService(context.Background(), store.NewMemory(), nil, nil)
	require.NoError(t, err)
	engine := resolve.NewEngine(support.NewMemoryStore(support.Seed()), cfg.Resolve, nil, nil)
	router := handoff.NewRouter(handoff.DefaultRoster(), cfg.Handoff, nil, nil, nil)
	d := desk.New(sessions, engine, router, nil, nil)

	r := chi.NewRouter()
	New(d, nil).RegisterRoutes(r)
	return r, d
}

func do(t *testing.T, r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSession(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(t, r, http.MethodPost, "/sessions", map[string]any{"userId": "u-1", "metadata": map[string]any{"plan": "pro", "page": 1, "tags": []string{"beta"}}})
	require.Equal(t, http.StatusCreated, resp.Code)

	var session model.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, model.SessionActive, session.Status)
	assert.Equal(t, "pro", session.Metadata["plan"])
	assert.Equal(t, float64(1), session.Metadata["page"])
	assert.Equal(t, []any{"beta"}, session.Metadata["tags"])
	assert.Len(t, session.Messages, 1)

	empty := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, empty)
	assert.Equal(t, http.StatusCreated, rec.Code, "body is optional")
}

func TestGetSessions(t *testing.T) {
	r, d := setupRouter(t)
	session, err := d.Sessions().CreateSession(context.Background(), chatsvc.CreateParams{})
	require.NoError(t, err)

	resp := do(t, r, http.MethodGet, "/sessions?sessionId="+session.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), session.ID)

	resp = do(t, r, http.MethodGet, "/sessions?sessionId=missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(t, r, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Sessions []model.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
}

func TestPostMessageReturnsReplies(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(t, r, http.MethodPost, "/messages", map[string]any{"text": "How much does Reflect cost?"})
	require.Equal(t, http.StatusOK, resp.Code)

	var exchange desk.Exchange
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &exchange))
	assert.NotEmpty(t, exchange.SessionID)
	assert.Equal(t, "How much does Reflect cost?", exchange.UserMessage.Text)
	require.NotEmpty(t, exchange.Responses)
	assert.Equal(t, model.KindQuickAnswer, exchange.Responses[0].Kind())

	resp = do(t, r, http.MethodGet, "/messages?sessionId="+exchange.SessionID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var history struct {
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &history))
	assert.Len(t, history.Messages, 2+len(exchange.Responses))

	resp = do(t, r, http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestPostMessageValidation(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing text", map[string]any{}, http.StatusBadRequest},
		{"non-string text", map[string]any{"text": 42}, http.StatusBadRequest},
		{"markup only", map[string]any{"text": "<script>x</script>"}, http.StatusBadRequest},
		{"unknown session", map[string]any{"text": "hi", "sessionId": "missing"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, r, http.MethodPost, "/messages", tt.body).Code)
		})
	}
}

func TestHandoffAndLifecycle(t *testing.T) {
	r, d := setupRouter(t)
	session, err := d.Sessions().CreateSession(context.Background(), chatsvc.CreateParams{})
	require.NoError(t, err)

	resp := do(t, r, http.MethodPost, "/sessions/"+session.ID+"/handoff", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var msg model.Message
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &msg))
	assert.Equal(t, model.KindEscalation, msg.Kind())

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/sessions/"+session.ID+"/resolve", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/sessions/"+session.ID+"/close", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, "/messages", map[string]any{"text": "hi", "sessionId": session.ID}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/sessions/missing/handoff", nil).Code)
}

func TestWebSocketExchange(t *testing.T) {
	r, _ := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	transport := chatclient.WSTransport{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
	conn, err := transport.Connect(context.Background(), "")
	require.NoError(t, err)
	defer conn.Close()
	require.NotEmpty(t, conn.SessionID())

	require.NoError(t, conn.Send(context.Background(), model.Message{ID: "m1", Text: "How much does Reflect cost?"}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-conn.Messages():
			assert.Equal(t, conn.SessionID(), msg.SessionID)
			if msg.Kind() == model.KindQuickAnswer {
				return
			}
		case <-deadline:
			t.Fatal("no quick answer pushed over the websocket")
		}
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	r, _ := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	transport := chatclient.WSTransport{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
	_, err := transport.Connect(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}
