package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/checktor/amnesiadb/config"
	"github.com/checktor/amnesiadb/engine"
	"github.com/checktor/amnesiadb/index"
	"github.com/checktor/amnesiadb/persistence"
)

var (
	configPath string
	dbType     string
	dbPath     string
	indexType  string
)

var rootCmd = &cobra.Command{
	Use:   "amnesia",
	Short: "A CLI for the AmnesiaDB face embedding store",
	Long: `Amnesia stores face embeddings, reduces them with a fitted PCA basis,
indexes the reduced vectors with locality sensitive hashing and answers
similarity queries with exact re-ranking. Matched detections can be
grouped into identities with Chinese Whispers label propagation.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbType, "db", "", "Database type: memory, bolt, badger")
	rootCmd.PersistentFlags().StringVar(&dbPath, "path", "", "Database path")
	rootCmd.PersistentFlags().StringVar(&indexType, "index", "", "Index type: lsh, flat")
}

// loadConfig resolves the effective configuration from file,
// environment and flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Persistence.Type = persistence.PersistenceType(dbType)
	}
	if dbPath != "" {
		cfg.Persistence.Path = dbPath
	}
	if indexType != "" {
		cfg.Index.Type = indexType
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openEngine opens the configured store and recovers the engine from
// it. The returned cleanup closes the engine and its persistence.
func openEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	factory := persistence.NewDefaultFactory()
	persist, err := factory.CreatePersistence(cfg.Persistence)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	eng, err := engine.NewWithRecovery(
		ctx,
		persist,
		index.NewDefaultFactory(),
		engine.WithParams(cfg.Index.Params),
		engine.WithIndexType(cfg.Index.Type),
	)
	if err != nil {
		persist.Close()
		return nil, nil, fmt.Errorf("failed to recover engine state: %w", err)
	}

	return eng, func() { eng.Close() }, nil
}
