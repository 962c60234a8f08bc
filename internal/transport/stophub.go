// ABOUTME: In-memory fan-out of stop requests keyed by transcript entry id
// ABOUTME: Responders subscribe for their own entry and release the subscription on teardown

package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stopBufferSize is the channel buffer for each subscriber. A responder
// only acts on the first stop, so one slot is enough to never block.
const stopBufferSize = 1

// StopSignal is a request to stop generating into an entry.
type StopSignal struct {
	MessageID  string
	RoomID     string
	Sender     string
	ReceivedAt time.Time
}

// StopHub provides pub/sub for stop requests.
// Subscribers register for a message id and only receive signals for it.
type StopHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan StopSignal // messageID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewStopHub creates a hub. Pass nil logger for default.
func NewStopHub(logger *slog.Logger) *StopHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StopHub{
		subscribers: make(map[string]map[string]chan StopSignal),
		logger:      logger.With("component", "stophub"),
	}
}

// Subscribe registers a subscriber for stop requests on messageID.
// Returns the receive channel and a subscription ID for Unsubscribe.
// The subscription is also removed when ctx is cancelled.
// On a closed hub the returned channel is already closed.
func (h *StopHub) Subscribe(ctx context.Context, messageID string) (<-chan StopSignal, string) {
	subID := uuid.New().String()
	ch := make(chan StopSignal, stopBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := h.subscribers[messageID]; !ok {
		h.subscribers[messageID] = make(map[string]chan StopSignal)
	}
	h.subscribers[messageID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("stop subscriber added",
		"message_id", messageID,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(messageID, subID)
	}()

	return ch, subID
}

// Publish delivers sig to every subscriber of sig.MessageID.
// Non-blocking: a subscriber that already has a pending stop is skipped.
// Returns the number of subscribers that received the signal.
func (h *StopHub) Publish(sig StopSignal) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.subscribers[sig.MessageID]
	delivered := 0
	for subID, ch := range subs {
		select {
		case ch <- sig:
			delivered++
		default:
			h.logger.Debug("stop already pending for subscriber",
				"message_id", sig.MessageID,
				"sub_id", subID)
		}
	}
	return delivered
}

// Unsubscribe removes a subscription and closes its channel.
// Unknown or already removed subscriptions are ignored.
func (h *StopHub) Unsubscribe(messageID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[messageID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(h.subscribers, messageID)
	}

	h.logger.Debug("stop subscriber removed",
		"message_id", messageID,
		"sub_id", subID)
}

// Subscribers returns the number of live subscriptions for messageID.
func (h *StopHub) Subscribers(messageID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[messageID])
}

// Close closes all subscriber channels. Later subscriptions get a closed channel.
func (h *StopHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for messageID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, messageID)
	}

	h.logger.Debug("stop hub closed")
}
