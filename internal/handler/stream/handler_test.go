package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/support"
	chatsvc "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/desk"
	"github.com/zhouzirui/supportdesk/backend/internal/service/handoff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/resolve"
	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

type stubGenerator struct {
	reply  string
	chunks []string
	err    error
}

func (g stubGenerator) Generate(context.Context, []chat.Message, string) (string, error) {
	return g.reply, g.err
}

func (g stubGenerator) Stream(_ context.Context, _ []chat.Message, _ string, emit func(string) error) error {
	for _, c := range g.chunks {
		if err := emit(c); err != nil {
			return err
		}
	}
	return g.err
}

func setupRouter(t *testing.T, gen resolve.Generator) (*chi.Mux, *desk.Desk) {
	t.Helper()
	cfg := config.Defaults()
	sessions, err := chatsvc.NewService(context.Background(), store.NewMemory(), nil, nil)
	require.NoError(t, err)

	var opts []resolve.Option
	if gen != nil {
		opts = append(opts, resolve.WithGenerator(gen))
	}
	engine := resolve.NewEngine(support.NewMemoryStore(support.Seed()), cfg.Resolve, nil, nil, opts...)
	d := desk.New(sessions, engine, handoff.NewRouter(handoff.DefaultRoster(), cfg.Handoff, nil, nil, nil), nil, nil)

	r := chi.NewRouter()
	New(d, nil).RegisterRoutes(r)
	return r, d
}

func postAssist(t *testing.T, r http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/ai", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestAssistGeneratedReply(t *testing.T) {
	r, d := setupRouter(t, stubGenerator{reply: "You can try exporting your notes from settings."})
	session, err := d.Sessions().CreateSession(context.Background(), chatsvc.CreateParams{})
	require.NoError(t, err)

	resp := postAssist(t, r, map[string]any{"message": "how do I get my data out?", "sessionId": session.ID})
	require.Equal(t, http.StatusOK, resp.Code)

	var reply desk.AssistReply
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &reply))
	assert.Equal(t, "how do I get my data out?", reply.UserMessage.Text)
	assert.Contains(t, reply.AgentMessage.Text, "exporting your notes")
	assert.False(t, reply.ShouldEscalate)
	assert.NotNil(t, reply.SuggestedActions)

	messages, err := d.Sessions().Messages(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
}

func TestAssistGeneratorFailureDegrades(t *testing.T) {
	r, _ := setupRouter(t, stubGenerator{err: errors.New("model overloaded")})

	resp := postAssist(t, r, map[string]any{"message": "what is the meaning of my notes"})
	require.Equal(t, http.StatusOK, resp.Code)

	var reply desk.AssistReply
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &reply))
	assert.Equal(t, resolve.FallbackReply, reply.AgentMessage.Text)
	assert.True(t, reply.ShouldEscalate)
	assert.Equal(t, []string{"Contact human support", "Try again later"}, reply.SuggestedActions)
}

func TestAssistValidation(t *testing.T) {
	r, _ := setupRouter(t, nil)

	assert.Equal(t, http.StatusBadRequest, postAssist(t, r, map[string]any{}).Code)
	assert.Equal(t, http.StatusBadRequest, postAssist(t, r, map[string]any{"message": 7}).Code)
	assert.Equal(t, http.StatusNotFound, postAssist(t, r, map[string]any{"message": "hi", "sessionId": "missing"}).Code)
}

func TestStreamPlainText(t *testing.T) {
	r, _ := setupRouter(t, stubGenerator{chunks: []string{"Exports live ", "under Settings."}})

	req := httptest.NewRequest(http.MethodGet, "/ai?message="+url.QueryEscape("where are exports?"), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header().Get("Content-Type"))
	assert.Equal(t, "Exports live under Settings.", resp.Body.String())
}

func TestStreamSSE(t *testing.T) {
	r, _ := setupRouter(t, stubGenerator{chunks: []string{"Hello", " there"}})

	req := httptest.NewRequest(http.MethodGet, "/ai?message=anything", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	body := resp.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: start"))
	assert.Equal(t, 2, strings.Count(body, "event: delta"))
	assert.Equal(t, 1, strings.Count(body, "event: end"))
}

func TestStreamValidation(t *testing.T) {
	r, _ := setupRouter(t, nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ai", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ai?message=hi&sessionId=missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
