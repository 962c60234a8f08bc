// ABOUTME: Tests for the Anthropic streaming backend against a fake SSE endpoint
// ABOUTME: Verifies text deltas, stop reason, and request parameters

package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-writer/internal/model"
)

func writeEvent(w io.Writer, name, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func TestOpenStream_TextDeltas(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-20241022","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":5,"output_tokens":1}}}`)
		writeEvent(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
		writeEvent(w, "ping", `{"type":"ping"}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo, "}}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"world"}}`)
		writeEvent(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		writeEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":3}}`)
		writeEvent(w, "message_stop", `{"type":"message_stop"}`)
	}))
	defer srv.Close()

	client := anthropic.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	m := NewModelFromClient(&client, func(o *model.Options) { o.Temperature = 0.5 })

	stream, err := m.OpenStream(t.Context(), "Say hello")
	require.NoError(t, err)
	defer stream.Close()

	var sb strings.Builder
	var finish string
	for stream.Next() {
		ck := stream.Current()
		sb.WriteString(ck.Text())
		if ck.FinishReason != "" {
			finish = ck.FinishReason
		}
	}
	require.NoError(t, stream.Err())

	assert.Equal(t, "Hello, world", sb.String())
	assert.Equal(t, "end_turn", finish)

	assert.Equal(t, "claude-3-5-sonnet-20241022", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.InDelta(t, 0.5, body["temperature"], 0.0001)
	assert.EqualValues(t, 4096, body["max_tokens"])
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *model.Options) {
		o.APIKey = "k"
		o.Model = "claude-sonnet-4-0"
	})
	info := m.Info()
	assert.Equal(t, "anthropic", info.Provider)
	assert.Equal(t, "claude-sonnet-4-0", info.Name)
}
