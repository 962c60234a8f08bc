// ABOUTME: Registry of per-room writing agents with idle reaping
// ABOUTME: Starts one agent per room, disposes idle ones on a ticker, and closes all on shutdown

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAgentExists indicates an agent is already running for the room.
var ErrAgentExists = errors.New("agent already running for room")

// ErrAgentNotFound indicates no agent is running for the room.
var ErrAgentNotFound = errors.New("agent not found")

// ErrRegistryClosed is returned by Start after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Session is the lifecycle surface the registry needs from an agent.
type Session interface {
	Init(ctx context.Context) error
	Dispose(ctx context.Context) error
	LastInteraction() time.Time
}

// Factory builds an uninitialized session for a room.
type Factory func(ctx context.Context, roomID string) (Session, error)

// Registry coordinates the running agents, one per room.
type Registry struct {
	factory Factory
	agents  map[string]Session
	mu      sync.Mutex
	closed  bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegistry creates a new Registry. Pass nil logger for default.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		agents:  make(map[string]Session),
		logger:  logger.With("component", "registry"),
		now:     time.Now,
	}
}

// Start creates and initializes the agent for roomID.
// Returns ErrAgentExists if one is already running.
func (r *Registry) Start(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.agents[roomID]; exists {
		return ErrAgentExists
	}

	s, err := r.factory(ctx, roomID)
	if err != nil {
		return fmt.Errorf("creating agent for %s: %w", roomID, err)
	}
	if err := s.Init(ctx); err != nil {
		if derr := s.Dispose(ctx); derr != nil {
			r.logger.Warn("failed to dispose agent after init error", "room", roomID, "error", derr)
		}
		return fmt.Errorf("initializing agent for %s: %w", roomID, err)
	}

	r.agents[roomID] = s
	r.logger.Info("=== AGENT STARTED ===",
		"room", roomID,
		"total_agents", len(r.agents),
	)
	return nil
}

// Stop disposes the agent for roomID.
func (r *Registry) Stop(ctx context.Context, roomID string) error {
	r.mu.Lock()
	s, exists := r.agents[roomID]
	if exists {
		delete(r.agents, roomID)
	}
	total := len(r.agents)
	r.mu.Unlock()

	if !exists {
		return ErrAgentNotFound
	}

	r.logger.Info("=== AGENT STOPPED ===",
		"room", roomID,
		"total_agents", total,
	)
	if err := s.Dispose(ctx); err != nil {
		return fmt.Errorf("disposing agent for %s: %w", roomID, err)
	}
	return nil
}

// Has reports whether an agent is running for roomID.
func (r *Registry) Has(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[roomID]
	return ok
}

// Len returns the number of running agents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// Reap disposes every agent idle for longer than maxIdle and returns the
// rooms it stopped.
func (r *Registry) Reap(ctx context.Context, maxIdle time.Duration) []string {
	now := r.now()

	r.mu.Lock()
	stale := make(map[string]Session)
	for roomID, s := range r.agents {
		if now.Sub(s.LastInteraction()) > maxIdle {
			stale[roomID] = s
			delete(r.agents, roomID)
		}
	}
	r.mu.Unlock()

	rooms := make([]string, 0, len(stale))
	for roomID, s := range stale {
		rooms = append(rooms, roomID)
		r.logger.Info("reaping idle agent",
			"room", roomID,
			"idle", now.Sub(s.LastInteraction()).Round(time.Second),
		)
		if err := s.Dispose(ctx); err != nil {
			r.logger.Warn("failed to dispose idle agent", "room", roomID, "error", err)
		}
	}
	return rooms
}

// Run reaps idle agents every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(ctx, maxIdle)
		}
	}
}

// Close disposes every agent. Later Start calls fail with ErrRegistryClosed.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	agents := r.agents
	r.agents = make(map[string]Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(agents))
	for roomID, s := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Dispose(ctx); err != nil {
				errCh <- fmt.Errorf("disposing agent for %s: %w", roomID, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	r.logger.Info("registry closed", "agents", len(agents))
	return errors.Join(errs...)
}
