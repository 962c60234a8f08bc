// ABOUTME: Entry point for coven-writer
// ABOUTME: Connects Matrix rooms to a streaming AI writing assistant

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-writer/internal/agent"
	"github.com/2389/coven-writer/internal/config"
	"github.com/2389/coven-writer/internal/dedupe"
	"github.com/2389/coven-writer/internal/model"
	"github.com/2389/coven-writer/internal/model/providers"
	"github.com/2389/coven-writer/internal/session"
	"github.com/2389/coven-writer/internal/store"
	"github.com/2389/coven-writer/internal/transport/matrix"
)

const banner = `
                                                    _ _
  ___ _____   _____ _ __   __      ___ __(_) |_ ___ _ __
 / __/ _ \ \ / / _ \ '_ \  \ \ /\ / / '__| | __/ _ \ '__|
| (_| (_) \ V /  __/ | | |  \ V  V /| |  | | ||  __/ |
 \___\___/ \_/ \___|_| |_|   \_/\_/ |_|  |_|\__\___|_|
`

// shutdownTimeout bounds how long responders get to wind down on exit.
const shutdownTimeout = 15 * time.Second

// getConfigPath returns the path to the config file.
// Priority: COVEN_WRITER_CONFIG env var > XDG_CONFIG_HOME/coven/writer.yaml > ~/.config/coven/writer.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_WRITER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "writer.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "writer.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "init":
			err = runInit(os.Stdin, getConfigPath())
		case "generations", "gens":
			err = cmdGenerations(context.Background(), os.Stdout, getConfigPath(), os.Args[2:])
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
			fmt.Fprintln(os.Stderr, "Usage: coven-writer [init | generations [--room ID] [--limit N]]")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	dataPath := getDataPath()

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	printStartup(configPath, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	client, err := matrix.NewClient(cfg.Matrix, matrix.Options{
		Dedupe: dedupe.NewWindow(dedupe.DefaultTTL, dedupe.DefaultMaxSize, dedupe.WithSweepInterval(time.Minute)),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Matrix.Encryption {
		crypto, err := matrix.EnableCrypto(ctx, client, cfg.Matrix.RecoveryKey, dataPath)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer crypto.Close()
	} else {
		logger.Info("encryption disabled")
	}

	registry := agent.NewRegistry(newAgentFactory(cfg, client, db, logger), logger)
	client.SetRoomStarter(func(ctx context.Context, roomID string) error {
		err := registry.Start(ctx, roomID)
		if errors.Is(err, agent.ErrAgentExists) {
			return nil
		}
		return err
	})

	for _, roomID := range cfg.Matrix.Rooms {
		if err := registry.Start(ctx, roomID); err != nil {
			var cfgErr *config.ConfigurationError
			if errors.As(err, &cfgErr) {
				return err
			}
			logger.Error("failed to start agent", "room", roomID, "error", err)
		}
	}

	go registry.Run(ctx, cfg.Agents.ReapInterval, cfg.Agents.IdleTimeout)

	logger.Info("coven-writer running", "rooms", registry.Len())
	runErr := client.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Warn("error while stopping agents", "error", err)
	}

	logger.Info("coven-writer stopped")
	return runErr
}

// newAgentFactory builds a session for a room on the shared Matrix client.
func newAgentFactory(cfg *config.Config, client *matrix.Client, st store.Store, logger *slog.Logger) agent.Factory {
	return func(_ context.Context, roomID string) (agent.Session, error) {
		return session.New(session.Params{
			Transport: client.Room(roomID),
			NewModel: func() (model.Model, error) {
				return providers.New(cfg.Model)
			},
			Store:            st,
			ThrottleInterval: cfg.Streaming.ThrottleInterval,
			Logger:           logger.With("room", roomID),
		}), nil
	}
}

func printStartup(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Model:      %s (%s)\n", cfg.Model.Name, cfg.Model.Provider)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	if cfg.Matrix.Encryption {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var logLevel slog.Level
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
