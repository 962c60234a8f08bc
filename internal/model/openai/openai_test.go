// ABOUTME: Tests for the OpenAI streaming backend against a fake SSE endpoint
// ABOUTME: Covers delta assembly, request parameters, Gemini naming, and HTTP failures

package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-writer/internal/model"
)

func sseChunk(content, finish string) string {
	finishJSON := "null"
	if finish != "" {
		finishJSON = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(
		`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":%q},"finish_reason":%s}]}`+"\n\n",
		content, finishJSON)
}

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := openai.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	return NewModelFromClient(&client, func(o *model.Options) {
		o.Model = "gpt-4o-mini"
		o.Temperature = 0.3
	})
}

func TestOpenStream_AssemblesDeltas(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseChunk("Hel", ""))
		_, _ = io.WriteString(w, sseChunk("lo, ", ""))
		_, _ = io.WriteString(w, sseChunk("world", "stop"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	stream, err := m.OpenStream(t.Context(), "Say hello")
	require.NoError(t, err)
	defer stream.Close()

	var sb strings.Builder
	var last model.Chunk
	for stream.Next() {
		last = stream.Current()
		sb.WriteString(last.Text())
	}
	require.NoError(t, stream.Err())

	assert.Equal(t, "Hello, world", sb.String())
	assert.Equal(t, "stop", last.FinishReason)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.InDelta(t, 0.3, body["temperature"], 0.0001)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	first, _ := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "Say hello", first["content"])
}

func TestOpenStream_HTTPErrorIsReported(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad prompt","type":"invalid_request_error"}}`)
	})

	stream, err := m.OpenStream(t.Context(), "prompt")
	if err == nil {
		// Some transports defer the failure to the first Next call.
		require.NotNil(t, stream)
		assert.False(t, stream.Next())
		err = stream.Err()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai streaming error")
}

func TestOpenStream_SkipsChunksWithoutChoices(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseChunk("only", "stop"))
		_, _ = io.WriteString(w, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	stream, err := m.OpenStream(t.Context(), "prompt")
	require.NoError(t, err)
	defer stream.Close()

	var n int
	for stream.Next() {
		n++
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, 1, n)
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *model.Options) {
		o.APIKey = "k"
		o.Model = "gpt-4.1"
	})
	assert.Equal(t, model.Info{Name: "gpt-4.1", Provider: "openai", Temperature: 0.7}, m.Info())

	g := NewGeminiModel(func(o *model.Options) { o.APIKey = "k" })
	assert.Equal(t, "gemini", g.Info().Provider)
	assert.Equal(t, "gemini-1.5-flash", g.Info().Name)
	assert.Equal(t, GeminiBaseURL, g.opts.BaseURL)
}
