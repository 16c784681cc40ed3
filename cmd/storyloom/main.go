// Package main is the storyloom console client: a solo TRPG session over
// stdin/stdout, with worlds and sessions persisted under the data directory.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/game"
	"github.com/aldermoor/storyloom/internal/platform/config"
	"github.com/aldermoor/storyloom/internal/platform/logging"
	"github.com/aldermoor/storyloom/internal/registry/sqlite"
	"github.com/aldermoor/storyloom/internal/session/files"
)

// version is stamped by the build.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "storyloom",
		Short:         "A solo tabletop role-playing session run by a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(playCommand(), worldsCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		config.Exitf("storyloom: %v", err)
	}
}

func playCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Start or resume a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlay(cmd.Context())
		},
	}
}

func worldsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worlds",
		Short: "List worlds and their sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorlds(cmd.Context())
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// setup loads configuration and opens the stores shared by the commands.
func setup() (config.Engine, *sqlite.Store, *files.Store, error) {
	var cfg config.Engine
	if err := config.ParseEnv(&cfg); err != nil {
		return config.Engine{}, nil, nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return config.Engine{}, nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := cfg.RegistryDBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.DataDir, dbPath)
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return config.Engine{}, nil, nil, err
	}
	return cfg, store, files.NewStore(cfg.DataDir), nil
}

// apiKey resolves the completion-service credential; a key file takes
// precedence over the environment value.
func apiKey(cfg config.Engine) (string, error) {
	if cfg.OpenAIAPIKeyFile != "" {
		raw, err := os.ReadFile(cfg.OpenAIAPIKeyFile)
		if err != nil {
			return "", fmt.Errorf("read api key file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	if cfg.OpenAIAPIKey == "" {
		return "", fmt.Errorf("no api key: set STORYLOOM_OPENAI_API_KEY or STORYLOOM_OPENAI_API_KEY_FILE")
	}
	return cfg.OpenAIAPIKey, nil
}

func runPlay(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, store, sessionFiles, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()

	logger := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	key, err := apiKey(cfg)
	if err != nil {
		return err
	}
	engine, err := ai.NewClient(ai.ClientConfig{
		URL:    cfg.ResponsesURL,
		APIKey: key,
		Models: map[ai.Tier]string{
			ai.TierLow:      cfg.ModelLow,
			ai.TierMedium:   cfg.ModelMedium,
			ai.TierHigh:     cfg.ModelHigh,
			ai.TierVeryHigh: cfg.ModelVeryHigh,
		},
		Logger: logging.Component(logger, "ai"),
	})
	if err != nil {
		return err
	}

	g, err := game.New(game.Config{
		Registry:            store,
		Files:               sessionFiles,
		Engine:              engine,
		Logger:              logging.Component(logger, "game"),
		Send:                printOutput,
		CompactionThreshold: cfg.CompactionThreshold,
		CompactionBatch:     cfg.CompactionBatch,
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	// The reader goroutine owns stdin; the worker owns everything else.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for scanner.Scan() {
			g.Submit(scanner.Text())
		}
		stop()
	}()

	err = <-done
	if errors.Is(err, context.Canceled) {
		fmt.Println("\nUntil next time.")
		return nil
	}
	return err
}

func printOutput(text string) {
	fmt.Println(text)
	fmt.Println()
}

func runWorlds(ctx context.Context) error {
	_, store, _, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()

	worldviews, err := store.ListWorldviews(ctx)
	if err != nil {
		return err
	}
	if len(worldviews) == 0 {
		fmt.Println("No worlds yet. Run `storyloom play` to create one.")
		return nil
	}
	for _, w := range worldviews {
		fmt.Printf("%s\t%s\n", w.ID, w.Name)
		sessions, err := store.ListSessions(ctx, w.ID)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			fmt.Printf("  %s\t%s (%s)\n", sess.ID, sess.Title, sess.Status)
		}
	}
	return nil
}
