package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/checktor/amnesiadb/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API server",
	Long: `Starts the HTTP server exposing ingestion, search, clustering and
basis management over REST. The server shuts down gracefully on
SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to listen on")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	eng, cleanup, err := openEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

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

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sigChan:
	}

	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	return server.Shutdown(ctx)
}
