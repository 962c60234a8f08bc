// ABOUTME: Chat transport contract used by agents and responders
// ABOUTME: Defines inbound messages, transcript entries, and AI indicator events

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// IndicatorType is the event type of an AI indicator signal.
type IndicatorType string

const (
	IndicatorUpdate IndicatorType = "ai_indicator.update"
	IndicatorClear  IndicatorType = "ai_indicator.clear"
	// IndicatorStop is sent by clients to ask for generation to stop.
	IndicatorStop IndicatorType = "ai_indicator.stop"
)

// AIState is carried by ai_indicator.update events.
type AIState string

const (
	AIStateThinking AIState = "AI_STATE_THINKING"
	AIStateError    AIState = "AI_STATE_ERROR"
)

// MaxWritingTaskLength bounds the writing task hint accepted from message metadata.
const MaxWritingTaskLength = 500

// ErrInvalidWritingTask is returned when a writing task hint fails validation.
var ErrInvalidWritingTask = errors.New("invalid writing task")

// Entry identifies a transcript message owned by the chat service.
// RoomID doubles as the channel id (cid) in indicator events.
type Entry struct {
	ID     string
	RoomID string
}

// InboundMessage is a user message delivered to a room subscriber.
type InboundMessage struct {
	ID          string
	RoomID      string
	Sender      string
	Text        string
	AIGenerated bool
	// WritingTask is an optional hint describing the user's writing task.
	// Transports must run it through ValidateWritingTask before delivery.
	WritingTask string
	ReceivedAt  time.Time
}

// Outgoing is a new message to post to a room.
type Outgoing struct {
	Text        string
	AIGenerated bool
}

// Indicator is a UI status signal scoped to one transcript entry.
type Indicator struct {
	Type  IndicatorType
	State AIState // only set for IndicatorUpdate
	Entry Entry
}

// Thinking returns the indicator emitted when generation starts.
func Thinking(e Entry) Indicator {
	return Indicator{Type: IndicatorUpdate, State: AIStateThinking, Entry: e}
}

// Failed returns the indicator emitted when generation fails.
func Failed(e Entry) Indicator {
	return Indicator{Type: IndicatorUpdate, State: AIStateError, Entry: e}
}

// Cleared returns the indicator emitted when generation finishes or stops.
func Cleared(e Entry) Indicator {
	return Indicator{Type: IndicatorClear, Entry: e}
}

// MessageHandler receives inbound messages for a room.
type MessageHandler func(ctx context.Context, msg InboundMessage)

// Transport is a single room's view of the chat service. One Transport is
// shared by an agent and all of its responders.
type Transport interface {
	// Subscribe registers h for inbound messages and returns a function
	// that removes the registration.
	Subscribe(h MessageHandler) (unsubscribe func())

	// SendMessage posts a new message and returns its entry.
	SendMessage(ctx context.Context, msg Outgoing) (Entry, error)

	// UpdateMessage replaces the text of an existing entry.
	UpdateMessage(ctx context.Context, entry Entry, text string) error

	// SendIndicator emits an AI indicator event for an entry.
	SendIndicator(ctx context.Context, ind Indicator) error

	// Stops returns the hub that delivers stop requests keyed by entry id.
	Stops() *StopHub

	// Disconnect releases the room binding. Subsequent calls are no-ops.
	Disconnect(ctx context.Context) error
}

// ValidateWritingTask normalizes a writing task hint taken from message
// metadata. Non-string values are rejected; whitespace is trimmed.
func ValidateWritingTask(raw any) (string, error) {
	if raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %T", ErrInvalidWritingTask, raw)
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxWritingTaskLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidWritingTask, MaxWritingTaskLength)
	}
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("%w: contains NUL byte", ErrInvalidWritingTask)
	}
	return s, nil
}
