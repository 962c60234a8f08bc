// ABOUTME: Per-room writing agent that turns user messages into streamed responses
// ABOUTME: Owns the active responder set and tears every responder down on dispose

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-writer/internal/model"
	"github.com/2389/coven-writer/internal/prompt"
	"github.com/2389/coven-writer/internal/responder"
	"github.com/2389/coven-writer/internal/store"
	"github.com/2389/coven-writer/internal/transport"
)

// ErrAlreadyInitialized is returned by Init on an agent that was already initialized.
var ErrAlreadyInitialized = errors.New("agent already initialized")

// ErrDisposed is returned by Init on an agent that was disposed.
var ErrDisposed = errors.New("agent disposed")

// storeTimeout bounds ledger writes made from responder callbacks.
const storeTimeout = 5 * time.Second

// Params configures an Agent.
type Params struct {
	Transport transport.Transport

	// NewModel builds the model handle during Init. Returning a
	// *config.ConfigurationError signals a missing credential.
	NewModel func() (model.Model, error)

	// Store records generations. Optional.
	Store store.Store

	// ThrottleInterval is passed to every responder.
	ThrottleInterval time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Agent is the session coordinator for one room. It reacts to inbound
// user messages by posting a placeholder and starting a responder that
// streams the model output into it.
type Agent struct {
	transport transport.Transport
	newModel  func() (model.Model, error)
	store     store.Store
	throttle  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu              sync.Mutex
	model           model.Model
	initialized     bool
	disposed        bool
	unsubscribe     func()
	ctx             context.Context
	cancel          context.CancelFunc
	lastInteraction time.Time
	active          map[*responder.Responder]string // responder -> generation id

	wg          sync.WaitGroup
	disposeOnce sync.Once
	disposeErr  error
}

// New creates an Agent. Call Init before messages are handled.
func New(p Params) *Agent {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Agent{
		transport: p.Transport,
		newModel:  p.NewModel,
		store:     p.Store,
		throttle:  p.ThrottleInterval,
		logger:    logger.With("component", "session"),
		now:       now,
		active:    make(map[*responder.Responder]string),
	}
}

// Init builds the model handle and subscribes to inbound messages.
// A missing model credential surfaces as a *config.ConfigurationError.
func (a *Agent) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disposed {
		return ErrDisposed
	}
	if a.initialized {
		return ErrAlreadyInitialized
	}

	m, err := a.newModel()
	if err != nil {
		return fmt.Errorf("initializing model: %w", err)
	}

	// Responders run under the agent's context, not the caller's.
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.model = m
	a.initialized = true
	a.lastInteraction = a.now()
	a.unsubscribe = a.transport.Subscribe(a.HandleMessage)

	info := m.Info()
	a.logger.Info("agent initialized",
		"model", info.Name,
		"provider", info.Provider,
		"temperature", info.Temperature,
	)
	return nil
}

// HandleMessage starts a streamed response for a user message. Empty and
// AI-generated messages are ignored. It returns once the responder has
// been started and does not wait for it to finish.
func (a *Agent) HandleMessage(ctx context.Context, msg transport.InboundMessage) {
	if msg.Text == "" || msg.AIGenerated {
		return
	}

	a.mu.Lock()
	if !a.initialized || a.disposed {
		a.mu.Unlock()
		a.logger.Warn("dropping message for inactive agent", "message_id", msg.ID)
		return
	}
	a.lastInteraction = a.now()
	m := a.model
	a.mu.Unlock()

	logger := a.logger.With("room", msg.RoomID, "sender", msg.Sender)

	instructions, err := prompt.WritingAssistant(a.now(), msg.WritingTask)
	if err != nil {
		logger.Error("failed to build prompt", "error", err)
		return
	}
	fullPrompt := prompt.Compose(instructions, msg.Text)

	entry, err := a.transport.SendMessage(ctx, transport.Outgoing{AIGenerated: true})
	if err != nil {
		logger.Error("failed to send placeholder message", "error", err)
		return
	}

	if err := a.transport.SendIndicator(ctx, transport.Thinking(entry)); err != nil {
		logger.Warn("failed to send thinking indicator", "message_id", entry.ID, "error", err)
	}

	genID := uuid.New().String()
	a.recordStart(ctx, genID, entry, m, len(fullPrompt))

	r := responder.New(responder.Params{
		Model:            m,
		Transport:        a.transport,
		Entry:            entry,
		ThrottleInterval: a.throttle,
		OnDispose:        a.forget,
		Logger:           a.logger,
		Now:              a.now,
	})

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		r.Dispose()
		a.recordFinish(genID, responder.Result{Entry: entry, Outcome: r.Outcome()})
		return
	}
	select {
	case <-r.Done():
		// Stopped before it was tracked; forget already ran without a record.
		a.mu.Unlock()
		a.recordFinish(genID, responder.Result{Entry: entry, Outcome: r.Outcome(), Text: r.Text()})
		return
	default:
	}
	a.active[r] = genID
	a.wg.Add(1)
	runCtx := a.ctx
	a.mu.Unlock()

	logger.Info("starting response", "message_id", entry.ID, "generation_id", genID)

	go func() {
		defer a.wg.Done()
		r.Run(runCtx, fullPrompt)
	}()
}

// forget closes the ledger record of a finished responder and removes it
// from the active set. It runs on the responder's terminal transition.
func (a *Agent) forget(r *responder.Responder, res responder.Result) {
	a.mu.Lock()
	genID, ok := a.active[r]
	a.mu.Unlock()

	a.logger.Debug("response finished",
		"message_id", res.Entry.ID,
		"outcome", res.Outcome,
		"length", len(res.Text),
	)

	if !ok {
		return
	}
	a.recordFinish(genID, res)

	a.mu.Lock()
	delete(a.active, r)
	a.mu.Unlock()
}

func (a *Agent) recordStart(ctx context.Context, genID string, entry transport.Entry, m model.Model, promptLen int) {
	if a.store == nil {
		return
	}
	err := a.store.SaveGeneration(ctx, &store.Generation{
		ID:           genID,
		RoomID:       entry.RoomID,
		MessageID:    entry.ID,
		Model:        m.Info().Name,
		PromptLength: promptLen,
		StartedAt:    a.now(),
	})
	if err != nil {
		a.logger.Warn("failed to record generation", "generation_id", genID, "error", err)
	}
}

func (a *Agent) recordFinish(genID string, res responder.Result) {
	if a.store == nil {
		return
	}

	outcome := string(res.Outcome)
	if !store.ValidOutcome(outcome) {
		outcome = store.OutcomeCancelled
	}
	var errMsg string
	if res.Err != nil {
		errMsg = responder.ErrorText(res.Err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := a.store.FinishGeneration(ctx, genID, outcome, len(res.Text), errMsg, a.now()); err != nil {
		a.logger.Warn("failed to finish generation", "generation_id", genID, "error", err)
	}
}

// Dispose unsubscribes from the room, releases the transport, and
// disposes every active responder. It waits for responder goroutines
// until ctx is done. Only the first call has any effect.
func (a *Agent) Dispose(ctx context.Context) error {
	a.disposeOnce.Do(func() {
		a.disposeErr = a.dispose(ctx)
	})
	return a.disposeErr
}

func (a *Agent) dispose(ctx context.Context) error {
	a.mu.Lock()
	a.disposed = true
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	cancel := a.cancel
	responders := make([]*responder.Responder, 0, len(a.active))
	for r := range a.active {
		responders = append(responders, r)
	}
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	var errs []error
	if err := a.transport.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnecting transport: %w", err))
	}

	if cancel != nil {
		cancel()
	}
	for _, r := range responders {
		r.Dispose()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for responders: %w", ctx.Err()))
	}

	a.mu.Lock()
	clear(a.active)
	a.mu.Unlock()

	a.logger.Info("agent disposed", "responders", len(responders))
	return errors.Join(errs...)
}

// LastInteraction returns when the agent last accepted a user message,
// or when it was initialized if no message arrived yet.
func (a *Agent) LastInteraction() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastInteraction
}

// Active returns the number of in-flight responders.
func (a *Agent) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
