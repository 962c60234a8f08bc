// ABOUTME: Tests for StopHub fan-out of stop requests
// ABOUTME: Covers keyed delivery, unsubscribe, context cleanup, and close semantics

package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopHub_DeliversToMatchingMessage(t *testing.T) {
	h := NewStopHub(nil)
	defer h.Close()

	ch, _ := h.Subscribe(t.Context(), "$msg-1")

	n := h.Publish(StopSignal{MessageID: "$msg-1", RoomID: "!room"})
	assert.Equal(t, 1, n)

	select {
	case sig := <-ch:
		assert.Equal(t, "$msg-1", sig.MessageID)
		assert.Equal(t, "!room", sig.RoomID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop signal")
	}
}

func TestStopHub_UnrelatedMessageIsIgnored(t *testing.T) {
	h := NewStopHub(nil)
	defer h.Close()

	ch, _ := h.Subscribe(t.Context(), "$msg-1")

	n := h.Publish(StopSignal{MessageID: "$msg-2"})
	assert.Equal(t, 0, n)

	select {
	case <-ch:
		t.Fatal("subscriber for $msg-1 should not receive a stop for $msg-2")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopHub_SecondStopDoesNotBlock(t *testing.T) {
	h := NewStopHub(nil)
	defer h.Close()

	_, _ = h.Subscribe(t.Context(), "$msg-1")

	assert.Equal(t, 1, h.Publish(StopSignal{MessageID: "$msg-1"}))
	assert.Equal(t, 0, h.Publish(StopSignal{MessageID: "$msg-1"}), "pending stop should make the second publish a drop")
}

func TestStopHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewStopHub(nil)
	defer h.Close()

	ch, subID := h.Subscribe(t.Context(), "$msg-1")
	require.Equal(t, 1, h.Subscribers("$msg-1"))

	h.Unsubscribe("$msg-1", subID)
	assert.Equal(t, 0, h.Subscribers("$msg-1"))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Second unsubscribe is a no-op.
	h.Unsubscribe("$msg-1", subID)
}

func TestStopHub_ContextCancellationUnsubscribes(t *testing.T) {
	h := NewStopHub(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, "$msg-1")
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not cleaned up after cancel")
	}
	assert.Eventually(t, func() bool { return h.Subscribers("$msg-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopHub_CloseClosesEverything(t *testing.T) {
	h := NewStopHub(nil)

	ch1, _ := h.Subscribe(t.Context(), "$a")
	ch2, _ := h.Subscribe(t.Context(), "$b")
	h.Close()
	h.Close()

	for _, ch := range []<-chan StopSignal{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}

	late, _ := h.Subscribe(t.Context(), "$c")
	_, ok := <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")
	assert.Equal(t, 0, h.Publish(StopSignal{MessageID: "$c"}))
}

func TestStopHub_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := NewStopHub(nil)
	defer h.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		_, subID := h.Subscribe(t.Context(), "$hot")
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Publish(StopSignal{MessageID: "$hot"})
		}()
		go func() {
			defer wg.Done()
			h.Unsubscribe("$hot", subID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers("$hot"))
}

func TestValidateWritingTask(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    string
		wantErr bool
	}{
		{"absent", nil, "", false},
		{"plain", "Blog post", "Blog post", false},
		{"trimmed", "  cover letter \n", "cover letter", false},
		{"wrong type", 42, "", true},
		{"object", map[string]any{"task": "x"}, "", true},
		{"too long", strings.Repeat("a", MaxWritingTaskLength+1), "", true},
		{"nul byte", "a\x00b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateWritingTask(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidWritingTask))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
