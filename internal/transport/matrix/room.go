// ABOUTME: Matrix implementation of the chat transport for a single room
// ABOUTME: Posts placeholders, edits them with m.replace, and emits indicator events

package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-writer/internal/transport"
)

// ErrDisconnected is returned by sends on a disconnected room.
var ErrDisconnected = errors.New("room transport disconnected")

// Room is a transport.Transport bound to one Matrix room.
type Room struct {
	client *Client
	id     id.RoomID
	stops  *transport.StopHub

	mu           sync.RWMutex
	handlers     map[uint64]transport.MessageHandler
	nextHandler  uint64
	disconnected bool
}

func newRoom(c *Client, roomID id.RoomID) *Room {
	return &Room{
		client:   c,
		id:       roomID,
		stops:    transport.NewStopHub(c.logger.With("room", roomID.String())),
		handlers: make(map[uint64]transport.MessageHandler),
	}
}

// ID returns the Matrix room ID.
func (r *Room) ID() string { return r.id.String() }

// Subscribe implements transport.Transport.
func (r *Room) Subscribe(h transport.MessageHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.nextHandler
	r.nextHandler++
	r.handlers[key] = h

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, key)
	}
}

func (r *Room) deliver(ctx context.Context, msg transport.InboundMessage) {
	r.mu.RLock()
	if r.disconnected {
		r.mu.RUnlock()
		return
	}
	handlers := make([]transport.MessageHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
}

// SendMessage implements transport.Transport.
func (r *Room) SendMessage(ctx context.Context, msg transport.Outgoing) (transport.Entry, error) {
	if r.isDisconnected() {
		return transport.Entry{}, ErrDisconnected
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    msg.Text,
	}
	if html, ok := renderMarkdown(msg.Text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	raw := map[string]any{}
	if msg.AIGenerated {
		raw[fieldAIGenerated] = true
	}

	resp, err := r.client.mx.SendMessageEvent(ctx, r.id, event.EventMessage, &event.Content{
		Parsed: content,
		Raw:    raw,
	})
	if err != nil {
		return transport.Entry{}, fmt.Errorf("sending message to %s: %w", r.id, err)
	}

	return transport.Entry{ID: resp.EventID.String(), RoomID: r.id.String()}, nil
}

// UpdateMessage implements transport.Transport by sending an m.replace edit.
func (r *Room) UpdateMessage(ctx context.Context, entry transport.Entry, text string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, ok := renderMarkdown(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	content.SetEdit(id.EventID(entry.ID))

	_, err := r.client.mx.SendMessageEvent(ctx, r.id, event.EventMessage, &event.Content{
		Parsed: content,
		Raw:    map[string]any{fieldAIGenerated: true},
	})
	if err != nil {
		return fmt.Errorf("editing message %s: %w", entry.ID, err)
	}
	return nil
}

// SendIndicator implements transport.Transport. Thinking also turns typing
// on, and every other indicator turns it off.
func (r *Room) SendIndicator(ctx context.Context, ind transport.Indicator) error {
	evtType := EventIndicatorClear
	raw := map[string]any{
		fieldCID:       ind.Entry.RoomID,
		fieldMessageID: ind.Entry.ID,
	}
	if ind.Type == transport.IndicatorUpdate {
		evtType = EventIndicatorUpdate
		raw[fieldAIState] = string(ind.State)
	}

	_, err := r.client.mx.SendMessageEvent(ctx, r.id, evtType, &event.Content{Raw: raw})
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", ind.Type, r.id, err)
	}

	r.setTyping(ctx, ind.Type == transport.IndicatorUpdate && ind.State == transport.AIStateThinking)
	return nil
}

// Stops implements transport.Transport.
func (r *Room) Stops() *transport.StopHub { return r.stops }

// Disconnect implements transport.Transport. It detaches the room from the
// client and closes the stop hub.
func (r *Room) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	if r.disconnected {
		r.mu.Unlock()
		return nil
	}
	r.disconnected = true
	clear(r.handlers)
	r.mu.Unlock()

	r.client.remove(r)
	r.stops.Close()
	r.setTyping(ctx, false)

	r.client.logger.Info("room disconnected", "room", r.id.String())
	return nil
}

func (r *Room) isDisconnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disconnected
}

// setTyping sends a typing notification. Failures are only logged.
func (r *Room) setTyping(ctx context.Context, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), networkTimeout)
	defer cancel()
	if _, err := r.client.mx.UserTyping(ctx, r.id, typing, timeout); err != nil {
		r.client.logger.Debug("failed to set typing indicator", "room", r.id.String(), "error", err)
	}
}

var _ transport.Transport = (*Room)(nil)
