// ABOUTME: Bounded TTL window of recently handled chat events
// ABOUTME: Drops Matrix events that the homeserver re-delivers after reconnects

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults for a Window built by the Matrix client.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 4096
)

type windowEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Window remembers event keys for a TTL, capped at a maximum size.
// Oldest keys are evicted first. It is safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*windowEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	sweep   time.Duration
	done    chan struct{}
	closed  bool
}

// Option configures a Window.
type Option func(w *Window)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// WithSweepInterval starts a background goroutine that drops expired keys
// every interval. Without it expired keys are only dropped lazily.
func WithSweepInterval(interval time.Duration) Option {
	return func(w *Window) { w.sweep = interval }
}

// NewWindow creates a Window. A non-positive ttl or maxSize takes the default.
func NewWindow(ttl time.Duration, maxSize int, opts ...Option) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	w := &Window{
		seen:    make(map[string]*windowEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sweep > 0 {
		go w.sweepLoop(w.sweep)
	}
	return w
}

// Key builds the window key for an event in a room.
func Key(roomID, eventID string) string {
	return roomID + "|" + eventID
}

// Seen reports whether key was already recorded within the TTL. If not, it
// records key and returns false. Check and record happen under one lock.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if e, ok := w.seen[key]; ok {
		if now.Sub(e.seenAt) < w.ttl {
			return true
		}
		w.order.Remove(e.element)
		delete(w.seen, key)
	}

	for len(w.seen) >= w.maxSize {
		w.evictOldest()
	}
	w.seen[key] = &windowEntry{seenAt: now, element: w.order.PushBack(key)}
	return false
}

// Len returns the number of remembered keys, expired ones included.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Sweep drops every expired key and returns how many were removed.
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	// Keys are in insertion order with monotonically increasing seenAt.
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		key, _ := front.Value.(string)
		e := w.seen[key]
		if now.Sub(e.seenAt) < w.ttl {
			break
		}
		w.order.Remove(front)
		delete(w.seen, key)
		removed++
	}
	return removed
}

// Close stops the sweep goroutine. It is safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}

func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, key)
}

func (w *Window) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep()
		case <-w.done:
			return
		}
	}
}
