// ABOUTME: Interactive setup for coven-writer
// ABOUTME: Prompts for Matrix and model settings and writes a YAML config file

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-writer/internal/config"
)

// initConfig is the subset of settings written by the setup wizard.
type initConfig struct {
	Matrix struct {
		Homeserver  string   `yaml:"homeserver"`
		UserID      string   `yaml:"user_id"`
		AccessToken string   `yaml:"access_token"`
		Encryption  bool     `yaml:"encryption"`
		RecoveryKey string   `yaml:"recovery_key,omitempty"`
		AutoJoin    bool     `yaml:"auto_join"`
		Rooms       []string `yaml:"rooms"`
	} `yaml:"matrix"`
	Model struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"model"`
	Streaming struct {
		ThrottleInterval string `yaml:"throttle_interval"`
	} `yaml:"streaming"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// apiKeyEnv is the environment variable referenced for each provider's key.
var apiKeyEnv = map[string]string{
	config.ProviderGemini:    "GOOGLE_API_KEY",
	config.ProviderOpenAI:    "OPENAI_API_KEY",
	config.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

func runInit(in io.Reader, configPath string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	reader := bufio.NewReader(in)
	ask := func(prompt, def string) string {
		green.Print("    ▶ ")
		if def != "" {
			fmt.Printf("%s [%s]: ", prompt, def)
		} else {
			fmt.Printf("%s: ", prompt)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return def
		}
		return answer
	}

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		if strings.ToLower(ask("Overwrite? [y/N]", "n")) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	var cfg initConfig
	cfg.Matrix.Homeserver = ask("Matrix homeserver URL", "https://matrix.org")
	cfg.Matrix.UserID = ask("Bot user ID (e.g. @writer:matrix.org)", "")
	cfg.Matrix.AccessToken = ask("Access token", "")
	cfg.Matrix.RecoveryKey = ask("Recovery key (optional, enables E2EE)", "")
	cfg.Matrix.Encryption = cfg.Matrix.RecoveryKey != ""
	cfg.Matrix.AutoJoin = strings.ToLower(ask("Join rooms when invited? [Y/n]", "y")) == "y"
	if room := ask("Room to serve at startup (optional)", ""); room != "" {
		cfg.Matrix.Rooms = []string{room}
	}

	provider := strings.ToLower(ask("Model provider (gemini, openai, anthropic)", config.DefaultProvider))
	env, ok := apiKeyEnv[provider]
	if !ok {
		return &config.ConfigurationError{Field: "model.provider", Reason: fmt.Sprintf("unknown provider %q", provider)}
	}
	cfg.Model.Provider = provider
	cfg.Model.APIKey = "${" + env + "}"

	cfg.Streaming.ThrottleInterval = config.DefaultThrottleInterval.String()
	cfg.Database.Path = filepath.Join(getDataPath(), "writer.db")
	cfg.Logging.Level = "info"

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	data = append([]byte("# coven-writer configuration\n# Generated by coven-writer init\n\n"), data...)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Printf("    1. export %s=...\n", env)
	fmt.Println("    2. Run: coven-writer")
	fmt.Println()

	return nil
}
