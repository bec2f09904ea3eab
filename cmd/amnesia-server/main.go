package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/checktor/amnesiadb/api"
	"github.com/checktor/amnesiadb/config"
	"github.com/checktor/amnesiadb/engine"
	"github.com/checktor/amnesiadb/index"
	"github.com/checktor/amnesiadb/persistence"
)

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		host       = flag.String("host", "", "Host to listen on")
		port       = flag.Int("port", 0, "Port to listen on")
		dbType     = flag.String("db", "", "Database type: memory, bolt, badger")
		dbPath     = flag.String("path", "", "Database path")
		indexType  = flag.String("index", "", "Index type: lsh, flat")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override file and environment settings
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbType != "" {
		cfg.Persistence.Type = persistence.PersistenceType(*dbType)
	}
	if *dbPath != "" {
		cfg.Persistence.Path = *dbPath
	}
	if *indexType != "" {
		cfg.Index.Type = *indexType
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("=== AmnesiaDB Server ===")
	fmt.Printf("Version: 1.0.0\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Host: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Database: %s\n", cfg.Persistence.Type)
	fmt.Printf("  Path: %s\n", cfg.Persistence.Path)
	fmt.Printf("  Index: %s\n", cfg.Index.Type)
	fmt.Println()

	// Create persistence layer
	factory := persistence.NewDefaultFactory()
	persist, err := factory.CreatePersistence(cfg.Persistence)
	if err != nil {
		log.Fatalf("Failed to create persistence: %v", err)
	}
	defer persist.Close()

	// Create engine with recovery
	eng, err := engine.NewWithRecovery(
		context.Background(),
		persist,
		index.NewDefaultFactory(),
		engine.WithParams(cfg.Index.Params),
		engine.WithIndexType(cfg.Index.Type),
	)
	if err != nil {
		log.Fatalf("Failed to recover engine state: %v", err)
	}
	defer eng.Close()

	// Create API server
	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout

	server := api.NewServer(eng, serverConfig, api.ClusteringDefaults{
		DistanceThreshold: cfg.Clustering.DistanceThreshold,
		MaxIterations:     cfg.Clustering.MaxIterations,
		Seed:              cfg.Clustering.Seed,
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	fmt.Println("Server stopped gracefully")
}
