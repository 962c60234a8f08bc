// ABOUTME: Tests for the Matrix transport against a fake homeserver
// ABOUTME: Covers placeholder sends, m.replace edits, indicators, inbound filtering and stops

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-writer/internal/transport"
)

const (
	botID   = "@writer:example.org"
	aliceID = "@alice:example.org"
	roomA   = "!a:example.org"
)

var startTime = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type sentEvent struct {
	Room string
	Type string
	Body map[string]any
}

// homeserver records the client-server API calls the transport makes.
type homeserver struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	sends   []sentEvent
	typing  []bool
	joins   []string
	sendErr bool
}

func newHomeserver(t *testing.T) *homeserver {
	t.Helper()
	hs := &homeserver{t: t}
	hs.srv = httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(hs.srv.Close)
	return hs
}

func (hs *homeserver) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/_matrix/client/v3/"), "/")
	w.Header().Set("Content-Type", "application/json")

	hs.mu.Lock()
	defer hs.mu.Unlock()

	switch {
	case r.Method == http.MethodPut && len(parts) >= 4 && parts[0] == "rooms" && parts[2] == "send":
		if hs.sendErr {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
			return
		}
		var body map[string]any
		require.NoError(hs.t, json.NewDecoder(r.Body).Decode(&body))
		hs.sends = append(hs.sends, sentEvent{Room: parts[1], Type: parts[3], Body: body})
		_, _ = fmt.Fprintf(w, `{"event_id":"$evt%d"}`, len(hs.sends))

	case r.Method == http.MethodPut && len(parts) >= 3 && parts[0] == "rooms" && parts[2] == "typing":
		var body struct {
			Typing bool `json:"typing"`
		}
		require.NoError(hs.t, json.NewDecoder(r.Body).Decode(&body))
		hs.typing = append(hs.typing, body.Typing)
		_, _ = w.Write([]byte(`{}`))

	case r.Method == http.MethodPost && len(parts) >= 2 && (parts[0] == "join" || (len(parts) >= 3 && parts[2] == "join")):
		// POST /join/{room} or POST /rooms/{room}/join
		room := parts[1]
		hs.joins = append(hs.joins, room)
		_, _ = fmt.Fprintf(w, `{"room_id":%q}`, room)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errcode":"M_UNRECOGNIZED","error":"unrecognized request"}`))
	}
}

func (hs *homeserver) Sends() []sentEvent {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]sentEvent(nil), hs.sends...)
}

func (hs *homeserver) Typing() []bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]bool(nil), hs.typing...)
}

func (hs *homeserver) Joins() []string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]string(nil), hs.joins...)
}

func newTestClient(t *testing.T, hs *homeserver, opts Options) *Client {
	t.Helper()
	mx, err := mautrix.NewClient(hs.srv.URL, id.UserID(botID), "token")
	require.NoError(t, err)
	opts.Now = func() time.Time { return startTime }
	c := NewClientFromMautrix(mx, opts)
	t.Cleanup(c.Close)
	return c
}

func textEvent(eventID, sender, body string, raw map[string]any) *event.Event {
	if raw == nil {
		raw = map[string]any{}
	}
	return &event.Event{
		ID:        id.EventID(eventID),
		RoomID:    id.RoomID(roomA),
		Sender:    id.UserID(sender),
		Type:      event.EventMessage,
		Timestamp: startTime.Add(time.Second).UnixMilli(),
		Content: event.Content{
			Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body},
			Raw:    raw,
		},
	}
}

func collect(r *Room) func() []transport.InboundMessage {
	var mu sync.Mutex
	var got []transport.InboundMessage
	r.Subscribe(func(_ context.Context, msg transport.InboundMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	})
	return func() []transport.InboundMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]transport.InboundMessage(nil), got...)
	}
}

func TestRoom_SendPlaceholder(t *testing.T) {
	hs := newHomeserver(t)
	r := newTestClient(t, hs, Options{}).Room(roomA)

	entry, err := r.SendMessage(t.Context(), transport.Outgoing{AIGenerated: true})
	require.NoError(t, err)
	assert.Equal(t, transport.Entry{ID: "$evt1", RoomID: roomA}, entry)

	sends := hs.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, roomA, sends[0].Room)
	assert.Equal(t, "m.room.message", sends[0].Type)
	assert.Equal(t, true, sends[0].Body["ai_generated"])
	assert.Equal(t, "m.text", sends[0].Body["msgtype"])
	assert.NotContains(t, sends[0].Body, "formatted_body")
}

func TestRoom_SendMessageError(t *testing.T) {
	hs := newHomeserver(t)
	hs.sendErr = true
	r := newTestClient(t, hs, Options{}).Room(roomA)

	_, err := r.SendMessage(t.Context(), transport.Outgoing{Text: "hi"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "sending message")
}

func TestRoom_UpdateMessageSendsReplace(t *testing.T) {
	hs := newHomeserver(t)
	r := newTestClient(t, hs, Options{}).Room(roomA)

	err := r.UpdateMessage(t.Context(), transport.Entry{ID: "$placeholder", RoomID: roomA}, "Hello **world**")
	require.NoError(t, err)

	sends := hs.Sends()
	require.Len(t, sends, 1)
	body := sends[0].Body

	relates, ok := body["m.relates_to"].(map[string]any)
	require.True(t, ok, "edit must carry m.relates_to")
	assert.Equal(t, "m.replace", relates["rel_type"])
	assert.Equal(t, "$placeholder", relates["event_id"])

	newContent, ok := body["m.new_content"].(map[string]any)
	require.True(t, ok, "edit must carry m.new_content")
	assert.Equal(t, "Hello **world**", newContent["body"])
	assert.Equal(t, "org.matrix.custom.html", newContent["format"])
	assert.Contains(t, newContent["formatted_body"], "<strong>world</strong>")

	assert.Equal(t, "* Hello **world**", body["body"])
	assert.Equal(t, true, body["ai_generated"])
}

func TestRoom_Indicators(t *testing.T) {
	hs := newHomeserver(t)
	r := newTestClient(t, hs, Options{}).Room(roomA)
	entry := transport.Entry{ID: "$placeholder", RoomID: roomA}

	require.NoError(t, r.SendIndicator(t.Context(), transport.Thinking(entry)))
	require.NoError(t, r.SendIndicator(t.Context(), transport.Failed(entry)))
	require.NoError(t, r.SendIndicator(t.Context(), transport.Cleared(entry)))

	sends := hs.Sends()
	require.Len(t, sends, 3)

	assert.Equal(t, "ai_indicator.update", sends[0].Type)
	assert.Equal(t, map[string]any{
		"cid":        roomA,
		"message_id": "$placeholder",
		"ai_state":   "AI_STATE_THINKING",
	}, sends[0].Body)

	assert.Equal(t, "ai_indicator.update", sends[1].Type)
	assert.Equal(t, "AI_STATE_ERROR", sends[1].Body["ai_state"])

	assert.Equal(t, "ai_indicator.clear", sends[2].Type)
	assert.NotContains(t, sends[2].Body, "ai_state")

	assert.Equal(t, []bool{true, false, false}, hs.Typing())
}

func TestClient_DeliversInboundMessages(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{})
	got := collect(c.Room(roomA))

	c.handleMessage(t.Context(), textEvent("$1", aliceID, "Draft an intro", map[string]any{
		"writing_task": "  Conference talk abstract ",
	}))

	msgs := got()
	require.Len(t, msgs, 1)
	assert.Equal(t, "$1", msgs[0].ID)
	assert.Equal(t, roomA, msgs[0].RoomID)
	assert.Equal(t, aliceID, msgs[0].Sender)
	assert.Equal(t, "Draft an intro", msgs[0].Text)
	assert.Equal(t, "Conference talk abstract", msgs[0].WritingTask)
	assert.False(t, msgs[0].AIGenerated)
}

func TestClient_FiltersInboundMessages(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{})
	got := collect(c.Room(roomA))

	// own message
	c.handleMessage(t.Context(), textEvent("$own", botID, "mine", nil))

	// backlog from before startup
	old := textEvent("$old", aliceID, "old", nil)
	old.Timestamp = startTime.Add(-time.Minute).UnixMilli()
	c.handleMessage(t.Context(), old)

	// edit of an earlier message
	edit := textEvent("$edit", aliceID, "* fixed", nil)
	edit.Content.Parsed.(*event.MessageEventContent).RelatesTo = (&event.RelatesTo{}).SetReplace("$1")
	c.handleMessage(t.Context(), edit)

	// non-text message
	notice := textEvent("$notice", aliceID, "fyi", nil)
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	c.handleMessage(t.Context(), notice)

	assert.Empty(t, got())

	// duplicate delivery
	c.handleMessage(t.Context(), textEvent("$dup", aliceID, "once", nil))
	c.handleMessage(t.Context(), textEvent("$dup", aliceID, "once", nil))
	assert.Len(t, got(), 1)
}

func TestClient_FlagsAIGeneratedAndRejectsBadWritingTask(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{})
	got := collect(c.Room(roomA))

	c.handleMessage(t.Context(), textEvent("$ai", aliceID, "from another bot", map[string]any{
		"ai_generated": true,
		"writing_task": 42.0,
	}))

	msgs := got()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].AIGenerated)
	assert.Empty(t, msgs[0].WritingTask)
}

func TestClient_AllowedRooms(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{AllowedRooms: []string{"!other:example.org"}})
	got := collect(c.Room(roomA))

	c.handleMessage(t.Context(), textEvent("$1", aliceID, "hi", nil))
	assert.Empty(t, got())
}

func TestClient_StartsMissingRoom(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{})

	var got func() []transport.InboundMessage
	c.SetRoomStarter(func(_ context.Context, roomID string) error {
		got = collect(c.Room(roomID))
		return nil
	})

	c.handleMessage(t.Context(), textEvent("$1", aliceID, "hi", nil))

	require.NotNil(t, got, "starter should have been called")
	assert.Len(t, got(), 1)
	assert.Equal(t, 1, c.Rooms())
}

func TestClient_StopEventPublishesToRoom(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{})
	r := c.Room(roomA)

	ch, _ := r.Stops().Subscribe(t.Context(), "$placeholder")

	c.handleStop(t.Context(), &event.Event{
		ID:        "$stop",
		RoomID:    id.RoomID(roomA),
		Sender:    id.UserID(aliceID),
		Type:      EventIndicatorStop,
		Timestamp: startTime.Add(time.Second).UnixMilli(),
		Content:   event.Content{Raw: map[string]any{"message_id": "$placeholder"}},
	})

	select {
	case sig := <-ch:
		assert.Equal(t, "$placeholder", sig.MessageID)
		assert.Equal(t, aliceID, sig.Sender)
	case <-time.After(time.Second):
		t.Fatal("stop signal not delivered")
	}
}

func TestClient_AutoJoinInvite(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{AutoJoin: true})

	var started []string
	c.SetRoomStarter(func(_ context.Context, roomID string) error {
		started = append(started, roomID)
		c.Room(roomID)
		return nil
	})

	stateKey := botID
	c.handleMember(t.Context(), &event.Event{
		ID:       "$invite",
		RoomID:   id.RoomID(roomA),
		Sender:   id.UserID(aliceID),
		Type:     event.StateMember,
		StateKey: &stateKey,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipInvite}},
	})

	assert.Equal(t, []string{roomA}, hs.Joins())
	assert.Equal(t, []string{roomA}, started)
}

func TestRoom_Disconnect(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{})
	r := c.Room(roomA)
	got := collect(r)

	ch, _ := r.Stops().Subscribe(t.Context(), "$m")

	require.NoError(t, r.Disconnect(t.Context()))
	require.NoError(t, r.Disconnect(t.Context()))

	assert.Equal(t, 0, c.Rooms())
	_, open := <-ch
	assert.False(t, open, "stop subscriptions are closed")

	_, err := r.SendMessage(t.Context(), transport.Outgoing{Text: "late"})
	assert.ErrorIs(t, err, ErrDisconnected)

	r.deliver(t.Context(), transport.InboundMessage{Text: "late"})
	assert.Empty(t, got())
}

func TestClient_RoomReplacesPrevious(t *testing.T) {
	hs := newHomeserver(t)
	c := newTestClient(t, hs, Options{})

	first := c.Room(roomA)
	second := c.Room(roomA)

	assert.True(t, first.isDisconnected())
	assert.False(t, second.isDisconnected())
	assert.Equal(t, 1, c.Rooms())
}

func TestRenderMarkdown(t *testing.T) {
	_, ok := renderMarkdown("")
	assert.False(t, ok)

	_, ok = renderMarkdown("just plain words")
	assert.False(t, ok)

	html, ok := renderMarkdown("# Title\n\n- one\n- two")
	require.True(t, ok)
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<li>one</li>")

	html, ok = renderMarkdown("~~gone~~")
	require.True(t, ok)
	assert.Contains(t, html, "<del>gone</del>")
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@writer:matrix.org", "writer_matrix.org"},
		{"@a.b-c_d:example.org", "a.b-c_d_example.org"},
		{"@we!rd:host", "werd_host"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in), tt.in)
	}
}

func TestCryptoStorePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "writer-crypto-writer_example.org.db"),
		CryptoStorePath("/data", botID))
}

func TestStoreDeviceMismatch_NoDatabase(t *testing.T) {
	stale, err := storeDeviceMismatch(filepath.Join(t.TempDir(), "missing.db"), "DEVICE")
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestStoreKeyIsPerUser(t *testing.T) {
	assert.Len(t, storeKey(botID), 32)
	assert.NotEqual(t, storeKey(botID), storeKey(aliceID))
}
