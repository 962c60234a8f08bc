// ABOUTME: Streams one model completion into one transcript entry
// ABOUTME: Throttles edits and funnels completion, failure and stop into a single teardown

package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/coven-writer/internal/model"
	"github.com/2389/coven-writer/internal/transport"
)

// DefaultThrottleInterval is the minimum spacing between partial edits.
const DefaultThrottleInterval = time.Second

// FallbackErrorText replaces the transcript text when a failure has no message.
const FallbackErrorText = "Error generating the message"

// networkTimeout bounds terminal writes that must happen even if the run
// context is already cancelled.
const networkTimeout = 10 * time.Second

// Outcome is how a responder reached its terminal state.
type Outcome string

const (
	OutcomeRunning   Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// StreamError wraps any failure while opening or consuming the model stream,
// or while writing the streamed text to the transcript.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("streaming response: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Result describes a finished responder.
type Result struct {
	Entry   transport.Entry
	Outcome Outcome
	Text    string // accumulated model output
	Err     error  // set when Outcome is OutcomeFailed
}

// Params configures a Responder.
type Params struct {
	Model     model.Model
	Transport transport.Transport
	Entry     transport.Entry

	// ThrottleInterval defaults to DefaultThrottleInterval. A negative
	// value disables throttling.
	ThrottleInterval time.Duration

	// OnDispose is called exactly once, after the responder reached its
	// terminal state and released its stop subscription.
	OnDispose func(r *Responder, res Result)

	Logger *slog.Logger
	Now    func() time.Time
}

// Responder owns one in-flight generation. It is created by an agent for a
// placeholder entry, driven by Run, and torn down exactly once through
// whichever of completion, failure or a stop request happens first.
type Responder struct {
	model     model.Model
	transport transport.Transport
	entry     transport.Entry
	limiter   *rate.Limiter
	onDispose func(r *Responder, res Result)
	logger    *slog.Logger
	now       func() time.Time

	// mu guards the fields below and is held across transcript edits so
	// edits for the entry never overlap and never follow the terminal
	// transition.
	mu           sync.Mutex
	text         strings.Builder
	done         bool // terminal flag, set once
	outcome      Outcome
	failure      error
	lastFlush    time.Time
	flushes      int

	// cancelMu guards the stream cancel func. It is never held across a
	// transcript edit, so Stop and Dispose can always abort a stalled one.
	cancelMu      sync.Mutex
	cancelStream  context.CancelFunc
	aborted       bool
	stopRequested bool

	stops       <-chan transport.StopSignal
	subID       string
	cancelWatch context.CancelFunc
	releaseOnce sync.Once
	released    chan struct{}
}

// New creates a Responder and subscribes it to stop requests for its entry.
func New(p Params) *Responder {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	interval := p.ThrottleInterval
	if interval == 0 {
		interval = DefaultThrottleInterval
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	r := &Responder{
		model:     p.Model,
		transport: p.Transport,
		entry:     p.Entry,
		limiter:   rate.NewLimiter(limit, 1),
		onDispose: p.OnDispose,
		logger: logger.With(
			"component", "responder",
			"room", p.Entry.RoomID,
			"message_id", p.Entry.ID,
		),
		now:      now,
		released: make(chan struct{}),
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	r.cancelWatch = cancel
	r.stops, r.subID = p.Transport.Stops().Subscribe(watchCtx, p.Entry.ID)
	go r.watchStops()

	return r
}

// Entry returns the transcript entry this responder writes to.
func (r *Responder) Entry() transport.Entry { return r.entry }

// Text returns the output accumulated so far.
func (r *Responder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text.String()
}

// Outcome returns the terminal outcome, or OutcomeRunning.
func (r *Responder) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// LastFlush returns when the entry was last written, or the zero time.
func (r *Responder) LastFlush() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFlush
}

// Done returns a channel closed once the responder has been disposed.
func (r *Responder) Done() <-chan struct{} { return r.released }

// Run streams a completion for prompt into the entry. It never returns an
// error: failures are written to the transcript. The responder is always
// disposed when Run returns.
func (r *Responder) Run(ctx context.Context, prompt string) {
	defer r.Dispose()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.cancelMu.Lock()
	if r.aborted {
		r.cancelMu.Unlock()
		return
	}
	r.cancelStream = cancel
	r.cancelMu.Unlock()

	if err := r.stream(streamCtx, prompt); err != nil {
		r.fail(ctx, err)
	}
}

// stream consumes the model output and writes it to the entry. Every
// network call runs under streamCtx. Errors seen after streamCtx is
// cancelled belong to whoever cancelled it and are dropped.
func (r *Responder) stream(streamCtx context.Context, prompt string) error {
	s, err := r.model.OpenStream(streamCtx, prompt)
	if err != nil {
		return r.streamErr(streamCtx, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			r.logger.Debug("closing model stream", "error", err)
		}
	}()

	// The throttle window starts when the stream opens.
	r.limiter.AllowN(r.now(), 1)

	for s.Next() {
		delta := s.Current().Text()
		if delta == "" {
			continue
		}
		if !r.appendText(delta) {
			return nil
		}
		if !r.limiter.AllowN(r.now(), 1) {
			continue
		}
		if err := r.flush(streamCtx); err != nil {
			return r.streamErr(streamCtx, err)
		}
	}

	if err := s.Err(); err != nil {
		return r.streamErr(streamCtx, err)
	}

	if err := r.complete(streamCtx); err != nil {
		return r.streamErr(streamCtx, err)
	}
	return nil
}

// streamErr wraps err unless the responder is terminal or was aborted.
func (r *Responder) streamErr(streamCtx context.Context, err error) error {
	if streamCtx.Err() != nil || r.isDone() {
		return nil
	}
	return &StreamError{Err: err}
}

// appendText adds delta to the output. It reports false once terminal.
func (r *Responder) appendText(delta string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.text.WriteString(delta)
	return true
}

// flush writes a partial snapshot unless the responder is terminal.
func (r *Responder) flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	if err := r.transport.UpdateMessage(ctx, r.entry, r.text.String()); err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	r.lastFlush = r.now()
	r.flushes++
	return nil
}

// complete issues the unconditional final edit and clears the indicator.
func (r *Responder) complete(ctx context.Context) error {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return nil
	}
	text := r.text.String()
	if err := r.transport.UpdateMessage(ctx, r.entry, text); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("writing final message: %w", err)
	}
	r.lastFlush = r.now()
	r.flushes++
	r.done = true
	r.outcome = OutcomeCompleted
	r.mu.Unlock()

	r.logger.Debug("response completed", "length", len(text), "flushes", r.flushCount())
	r.sendIndicator(ctx, transport.Cleared(r.entry))
	return nil
}

// fail is the error path: error indicator, error text, then teardown.
func (r *Responder) fail(ctx context.Context, err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.outcome = OutcomeFailed
	r.failure = err
	r.mu.Unlock()

	r.logger.Error("response generation failed", "error", err)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), networkTimeout)
	defer cancel()

	r.sendIndicator(ctx, transport.Failed(r.entry))
	if uerr := r.transport.UpdateMessage(ctx, r.entry, ErrorText(err)); uerr != nil {
		r.logger.Error("failed to write error message", "error", uerr)
	}

	r.Dispose()
}

// Stop is the cancellation path. It is a no-op for a terminal responder
// or a signal addressed to another entry.
func (r *Responder) Stop(sig transport.StopSignal) {
	if sig.MessageID != r.entry.ID {
		return
	}

	r.abort(true)
	if r.markCancelled() {
		r.logger.Info("stop generating", "sender", sig.Sender)
		r.clearIndicator()
	}

	r.Dispose()
}

// Dispose marks the responder terminal, aborts the upstream stream,
// releases the stop subscription and notifies the owner. Only the first
// call has any effect.
func (r *Responder) Dispose() {
	r.abort(false)
	if r.markCancelled() {
		r.clearIndicator()
	}

	r.releaseOnce.Do(r.release)
}

// abort cancels the upstream stream and any edit in flight, and keeps a
// later Run from starting one. It never waits on mu.
func (r *Responder) abort(stop bool) {
	r.cancelMu.Lock()
	r.aborted = true
	if stop {
		r.stopRequested = true
	}
	cancel := r.cancelStream
	r.cancelMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// markCancelled takes the terminal flag for a stop or a dispose. It
// reports whether a stop request is now owed its clear indicator.
func (r *Responder) markCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.done = true
	r.outcome = OutcomeCancelled

	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	return r.stopRequested
}

func (r *Responder) clearIndicator() {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	r.sendIndicator(ctx, transport.Cleared(r.entry))
}

func (r *Responder) release() {
	r.transport.Stops().Unsubscribe(r.entry.ID, r.subID)
	r.cancelWatch()

	res := r.result()
	close(r.released)

	if r.onDispose != nil {
		r.onDispose(r, res)
	}
}

func (r *Responder) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		Entry:   r.entry,
		Outcome: r.outcome,
		Text:    r.text.String(),
		Err:     r.failure,
	}
}

func (r *Responder) watchStops() {
	for sig := range r.stops {
		r.Stop(sig)
	}
}

func (r *Responder) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Responder) flushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

func (r *Responder) sendIndicator(ctx context.Context, ind transport.Indicator) {
	if err := r.transport.SendIndicator(ctx, ind); err != nil {
		r.logger.Warn("failed to send indicator",
			"type", ind.Type,
			"state", ind.State,
			"error", err)
	}
}

// ErrorText is the transcript text shown for a failed generation.
func ErrorText(err error) string {
	var se *StreamError
	if errors.As(err, &se) && se.Err != nil {
		err = se.Err
	}
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return FallbackErrorText
	}
	return err.Error()
}
