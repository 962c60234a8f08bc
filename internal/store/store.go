// ABOUTME: Store interface and data types for the generation ledger
// ABOUTME: Defines the Generation record and the outcomes a response can finish with

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateGeneration is returned when saving a generation whose ID already exists
var ErrDuplicateGeneration = errors.New("generation already exists")

// Outcome constants for generation records
const (
	OutcomeRunning   = "running"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Generation records one streamed response written into a room
type Generation struct {
	ID           string
	RoomID       string
	MessageID    string // transcript entry the response was streamed into
	Model        string
	PromptLength int
	Outcome      string
	TextLength   int
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time // zero while running
}

// Store persists the generation ledger.
type Store interface {
	// SaveGeneration records a generation at start. Outcome defaults to running.
	SaveGeneration(ctx context.Context, g *Generation) error

	// FinishGeneration sets the terminal outcome of a generation.
	// Returns ErrNotFound if no generation has the given ID.
	FinishGeneration(ctx context.Context, id, outcome string, textLength int, errMsg string, finishedAt time.Time) error

	// GetGeneration retrieves a generation by ID.
	GetGeneration(ctx context.Context, id string) (*Generation, error)

	// ListGenerations returns the most recent generations for a room, newest
	// first. An empty roomID lists all rooms. limit <= 0 returns everything.
	ListGenerations(ctx context.Context, roomID string, limit int) ([]*Generation, error)

	// Close closes the underlying storage.
	Close() error
}

// ValidOutcome reports whether outcome is a terminal outcome.
func ValidOutcome(outcome string) bool {
	switch outcome {
	case OutcomeCompleted, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}
