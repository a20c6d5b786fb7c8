package utils

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello", SanitizeText("  <b>hello</b> "))
	assert.Equal(t, "", SanitizeText("<script>alert(1)</script>"))
	assert.Equal(t, "Tom & Jerry's notes", SanitizeText("Tom & Jerry's notes"))
	assert.Equal(t, "a < b", SanitizeText("a < b"))
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, 400, "text is required")

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"text is required"}`, rec.Body.String())
}

func TestStreamWriters(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupTextStreamHeaders(rec)
	require.NoError(t, WriteTextChunk(rec, rec, "Hi "))
	require.NoError(t, WriteTextChunk(rec, rec, "there"))
	assert.Equal(t, "Hi there", rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	sse := httptest.NewRecorder()
	require.NoError(t, SendSSEEvent(sse, sse, "chunk", map[string]string{"text": "x"}))
	assert.True(t, strings.HasPrefix(sse.Body.String(), "event: chunk\ndata: {\"text\":\"x\"}"))
}
