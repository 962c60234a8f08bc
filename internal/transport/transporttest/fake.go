// ABOUTME: In-memory recording Transport for agent and responder tests
// ABOUTME: Captures sent messages, edits and indicators, and can inject failures

package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2389/coven-writer/internal/transport"
)

// ErrDisconnected is returned by operations on a disconnected Fake.
var ErrDisconnected = errors.New("transport disconnected")

// Update records one UpdateMessage call.
type Update struct {
	Entry transport.Entry
	Text  string
	At    time.Time
}

// Sent records one SendMessage call.
type Sent struct {
	Entry transport.Entry
	Msg   transport.Outgoing
}

// Fake implements transport.Transport in memory. It is safe for concurrent use.
type Fake struct {
	RoomID string

	// SendErr, UpdateErr and IndicatorErr, when set, are returned by the
	// corresponding calls.
	SendErr      error
	UpdateErr    error
	IndicatorErr error

	// OnUpdate, when set, runs inside UpdateMessage before it returns.
	OnUpdate func(u Update)

	mu           sync.Mutex
	handlers     map[int]transport.MessageHandler
	nextHandler  int
	nextID       int
	sent         []Sent
	updates      []Update
	indicators   []transport.Indicator
	texts        map[string]string
	disconnects  int
	disconnected bool
	stops        *transport.StopHub
	now          func() time.Time
}

// New returns a Fake bound to roomID.
func New(roomID string) *Fake {
	return &Fake{
		RoomID:   roomID,
		handlers: make(map[int]transport.MessageHandler),
		texts:    make(map[string]string),
		stops:    transport.NewStopHub(nil),
		now:      time.Now,
	}
}

// Subscribe implements transport.Transport.
func (f *Fake) Subscribe(h transport.MessageHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextHandler
	f.nextHandler++
	f.handlers[id] = h

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

// SendMessage implements transport.Transport.
func (f *Fake) SendMessage(_ context.Context, msg transport.Outgoing) (transport.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disconnected {
		return transport.Entry{}, ErrDisconnected
	}
	if f.SendErr != nil {
		return transport.Entry{}, f.SendErr
	}

	f.nextID++
	entry := transport.Entry{ID: fmt.Sprintf("$msg-%d", f.nextID), RoomID: f.RoomID}
	f.sent = append(f.sent, Sent{Entry: entry, Msg: msg})
	f.texts[entry.ID] = msg.Text
	return entry, nil
}

// UpdateMessage implements transport.Transport.
func (f *Fake) UpdateMessage(_ context.Context, entry transport.Entry, text string) error {
	f.mu.Lock()
	if f.UpdateErr != nil {
		err := f.UpdateErr
		f.mu.Unlock()
		return err
	}
	u := Update{Entry: entry, Text: text, At: f.now()}
	f.updates = append(f.updates, u)
	f.texts[entry.ID] = text
	hook := f.OnUpdate
	f.mu.Unlock()

	if hook != nil {
		hook(u)
	}
	return nil
}

// SendIndicator implements transport.Transport.
func (f *Fake) SendIndicator(_ context.Context, ind transport.Indicator) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.IndicatorErr != nil {
		return f.IndicatorErr
	}
	f.indicators = append(f.indicators, ind)
	return nil
}

// Stops implements transport.Transport.
func (f *Fake) Stops() *transport.StopHub {
	return f.stops
}

// Disconnect implements transport.Transport.
func (f *Fake) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnects++
	if !f.disconnected {
		f.disconnected = true
		f.stops.Close()
	}
	return nil
}

// Deliver invokes every subscribed handler with msg, as the chat service would.
func (f *Fake) Deliver(ctx context.Context, msg transport.InboundMessage) {
	f.mu.Lock()
	handlers := make([]transport.MessageHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	if msg.RoomID == "" {
		msg.RoomID = f.RoomID
	}
	for _, h := range handlers {
		h(ctx, msg)
	}
}

// Stop publishes a stop request for messageID and returns how many
// subscribers received it.
func (f *Fake) Stop(messageID string) int {
	return f.stops.Publish(transport.StopSignal{
		MessageID:  messageID,
		RoomID:     f.RoomID,
		ReceivedAt: f.now(),
	})
}

// Handlers returns the number of registered message handlers.
func (f *Fake) Handlers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// SentMessages returns a copy of all sent messages.
func (f *Fake) SentMessages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// Updates returns a copy of all recorded updates.
func (f *Fake) Updates() []Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Update, len(f.updates))
	copy(out, f.updates)
	return out
}

// Indicators returns a copy of all recorded indicators.
func (f *Fake) Indicators() []transport.Indicator {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Indicator, len(f.indicators))
	copy(out, f.indicators)
	return out
}

// Text returns the current text of an entry.
func (f *Fake) Text(messageID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[messageID]
}

// Disconnects returns how many times Disconnect was called.
func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// SetClock overrides the clock used to timestamp updates.
func (f *Fake) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}
