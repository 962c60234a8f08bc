// ABOUTME: Tests for the SQLite generation ledger
// ABOUTME: Covers schema creation, save/finish round trips, ordering and limits

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSaveAndGetGeneration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)

	g := &Generation{
		ID:           "gen-1",
		RoomID:       "!room:example.org",
		MessageID:    "$placeholder",
		Model:        "gemini-1.5-flash",
		PromptLength: 512,
		StartedAt:    started,
	}
	if err := store.SaveGeneration(ctx, g); err != nil {
		t.Fatalf("SaveGeneration failed: %v", err)
	}

	got, err := store.GetGeneration(ctx, "gen-1")
	if err != nil {
		t.Fatalf("GetGeneration failed: %v", err)
	}
	if got.Outcome != OutcomeRunning {
		t.Errorf("Outcome = %q, want %q", got.Outcome, OutcomeRunning)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if !got.FinishedAt.IsZero() {
		t.Errorf("FinishedAt = %v, want zero", got.FinishedAt)
	}
	if got.PromptLength != 512 || got.Model != "gemini-1.5-flash" || got.MessageID != "$placeholder" {
		t.Errorf("unexpected generation: %+v", got)
	}
}

func TestSaveGeneration_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	g := &Generation{ID: "dup", RoomID: "!r", MessageID: "$m", Model: "m", StartedAt: time.Now()}
	if err := store.SaveGeneration(ctx, g); err != nil {
		t.Fatalf("first SaveGeneration failed: %v", err)
	}
	if err := store.SaveGeneration(ctx, g); !errors.Is(err, ErrDuplicateGeneration) {
		t.Errorf("expected ErrDuplicateGeneration, got %v", err)
	}
}

func TestFinishGeneration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC()

	if err := store.SaveGeneration(ctx, &Generation{ID: "g", RoomID: "!r", MessageID: "$m", Model: "m", StartedAt: started}); err != nil {
		t.Fatalf("SaveGeneration failed: %v", err)
	}

	finished := started.Add(3 * time.Second)
	if err := store.FinishGeneration(ctx, "g", OutcomeFailed, 7, "model overloaded", finished); err != nil {
		t.Fatalf("FinishGeneration failed: %v", err)
	}

	got, err := store.GetGeneration(ctx, "g")
	if err != nil {
		t.Fatalf("GetGeneration failed: %v", err)
	}
	if got.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %q, want %q", got.Outcome, OutcomeFailed)
	}
	if got.TextLength != 7 {
		t.Errorf("TextLength = %d, want 7", got.TextLength)
	}
	if got.Error != "model overloaded" {
		t.Errorf("Error = %q", got.Error)
	}
	if !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
}

func TestFinishGeneration_Errors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.FinishGeneration(ctx, "missing", OutcomeCompleted, 0, "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.FinishGeneration(ctx, "missing", OutcomeRunning, 0, "", time.Now()); err == nil {
		t.Error("expected error for non-terminal outcome")
	}
}

func TestGetGeneration_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetGeneration(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListGenerations_OrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Sub-second offsets check that ordering does not depend on fraction width.
	offsets := []time.Duration{0, 500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for i, off := range offsets {
		room := "!a"
		if i%2 == 1 {
			room = "!b"
		}
		g := &Generation{
			ID:        fmt.Sprintf("gen-%d", i),
			RoomID:    room,
			MessageID: fmt.Sprintf("$m%d", i),
			Model:     "m",
			StartedAt: base.Add(off),
		}
		if err := store.SaveGeneration(ctx, g); err != nil {
			t.Fatalf("SaveGeneration failed: %v", err)
		}
	}

	all, err := store.ListGenerations(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListGenerations failed: %v", err)
	}
	want := []string{"gen-3", "gen-2", "gen-1", "gen-0"}
	if len(all) != len(want) {
		t.Fatalf("got %d generations, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("all[%d] = %s, want %s", i, all[i].ID, id)
		}
	}

	roomA, err := store.ListGenerations(ctx, "!a", 1)
	if err != nil {
		t.Fatalf("ListGenerations failed: %v", err)
	}
	if len(roomA) != 1 || roomA[0].ID != "gen-2" {
		t.Errorf("expected latest generation of !a, got %+v", roomA)
	}
}
