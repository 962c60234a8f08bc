// ABOUTME: SQLite implementation of generation ledger operations
// ABOUTME: Records streamed responses at start and stamps their terminal outcome

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SaveGeneration records a generation at start.
func (s *SQLiteStore) SaveGeneration(ctx context.Context, g *Generation) error {
	outcome := g.Outcome
	if outcome == "" {
		outcome = OutcomeRunning
	}

	var finishedAt any
	if !g.FinishedAt.IsZero() {
		finishedAt = formatTime(g.FinishedAt)
	}

	query := `
		INSERT INTO generations (
			id, room_id, message_id, model, prompt_length,
			outcome, text_length, error, started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		g.ID,
		g.RoomID,
		g.MessageID,
		g.Model,
		g.PromptLength,
		outcome,
		g.TextLength,
		nullString(g.Error),
		formatTime(g.StartedAt),
		finishedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateGeneration
		}
		return fmt.Errorf("inserting generation: %w", err)
	}

	s.logger.Debug("saved generation",
		"id", g.ID,
		"room_id", g.RoomID,
		"message_id", g.MessageID,
	)
	return nil
}

// FinishGeneration stamps the terminal outcome of a generation.
func (s *SQLiteStore) FinishGeneration(ctx context.Context, id, outcome string, textLength int, errMsg string, finishedAt time.Time) error {
	if !ValidOutcome(outcome) {
		return fmt.Errorf("invalid outcome %q", outcome)
	}

	query := `
		UPDATE generations
		SET outcome = ?, text_length = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		outcome,
		textLength,
		nullString(errMsg),
		formatTime(finishedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("finishing generation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("finished generation",
		"id", id,
		"outcome", outcome,
		"text_length", textLength,
	)
	return nil
}

// GetGeneration retrieves a generation by ID.
func (s *SQLiteStore) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	query := `
		SELECT id, room_id, message_id, model, prompt_length,
		       outcome, text_length, error, started_at, finished_at
		FROM generations
		WHERE id = ?
	`

	g, err := scanGeneration(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying generation: %w", err)
	}
	return g, nil
}

// ListGenerations returns the most recent generations, newest first.
func (s *SQLiteStore) ListGenerations(ctx context.Context, roomID string, limit int) ([]*Generation, error) {
	query := `
		SELECT id, room_id, message_id, model, prompt_length,
		       outcome, text_length, error, started_at, finished_at
		FROM generations
	`
	var args []any
	if roomID != "" {
		query += ` WHERE room_id = ?`
		args = append(args, roomID)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying generations: %w", err)
	}
	defer rows.Close()

	var out []*Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning generation: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating generations: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*Generation, error) {
	var (
		g          Generation
		errMsg     sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(
		&g.ID,
		&g.RoomID,
		&g.MessageID,
		&g.Model,
		&g.PromptLength,
		&g.Outcome,
		&g.TextLength,
		&errMsg,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	g.Error = errMsg.String
	if g.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		if g.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return nil, err
		}
	}
	return &g, nil
}
