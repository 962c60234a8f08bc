// ABOUTME: The "generations" subcommand for coven-writer
// ABOUTME: Prints recent entries from the generation ledger as a table

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-writer/internal/config"
	"github.com/2389/coven-writer/internal/store"
)

const defaultGenerationsLimit = 20

// cmdGenerations opens the configured ledger and lists recent generations.
func cmdGenerations(ctx context.Context, out io.Writer, configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	return listGenerations(ctx, out, db, args)
}

// listGenerations parses --room/-r and --limit/-n and prints a table.
func listGenerations(ctx context.Context, out io.Writer, st store.Store, args []string) error {
	var roomID string
	limit := defaultGenerationsLimit

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--room", "-r":
			if i+1 < len(args) {
				roomID = args[i+1]
				i++
			}
		case "--limit", "-n":
			if i+1 < len(args) {
				n, err := strconv.Atoi(args[i+1])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid limit %q", args[i+1])
				}
				limit = n
				i++
			}
		default:
			return fmt.Errorf("unknown argument: %s (use --room, --limit)", args[i])
		}
	}

	gens, err := st.ListGenerations(ctx, roomID, limit)
	if err != nil {
		return fmt.Errorf("listing generations: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Generations")
	cyan.Fprintln(out, "  -----------")

	if len(gens) == 0 {
		fmt.Fprintln(out, "  (no generations)")
		fmt.Fprintln(out)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  STARTED\tROOM\tMODEL\tOUTCOME\tCHARS\tDURATION\tERROR")
	fmt.Fprintln(w, "  -------\t----\t-----\t-------\t-----\t--------\t-----")

	for _, g := range gens {
		duration := "-"
		if !g.FinishedAt.IsZero() {
			duration = g.FinishedAt.Sub(g.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			g.StartedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(g.RoomID, 24),
			g.Model,
			g.Outcome,
			g.TextLength,
			duration,
			truncate(g.Error, 40),
		)
	}
	w.Flush()
	fmt.Fprintln(out)

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
