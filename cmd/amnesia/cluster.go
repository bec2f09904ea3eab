package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/checktor/amnesiadb/core"
	"github.com/checktor/amnesiadb/core/clustering"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster [file]",
	Short: "Search for a face and group the matches into identities",
	Long: `Runs a similarity search for the query embedding and partitions the
matched points into identity groups with Chinese Whispers label
propagation. Each group lists its member ids and carries a mean-vector
representative.

Examples:
  # Group everything within distance 0.45 of the query
  amnesia cluster face.json --threshold 0.45

  # Use a stricter edge threshold during grouping
  amnesia cluster face.json --threshold 0.6 --grouping-threshold 0.3`,
	Args: cobra.ExactArgs(1),
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)

	clusterCmd.Flags().Int("top-k", 0, "Maximum number of search results")
	clusterCmd.Flags().Float32("threshold", 0, "Maximum distance for a search match")
	clusterCmd.Flags().Float32("grouping-threshold", 0, "Maximum distance between two detections of one identity")
	clusterCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCluster(cmd *cobra.Command, args []string) error {
	topK, _ := cmd.Flags().GetInt("top-k")
	threshold, _ := cmd.Flags().GetFloat32("threshold")
	groupingThreshold, _ := cmd.Flags().GetFloat32("grouping-threshold")
	asJSON, _ := cmd.Flags().GetBool("json")

	embedding, err := readQueryEmbedding(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, cleanup, err := openEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := eng.Search(cmd.Context(), core.SearchRequest{
		Query:             embedding,
		TopK:              topK,
		DistanceThreshold: threshold,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	opts := clustering.Options{
		SimilarityThreshold: core.InverseDistanceSimilarity(cfg.Clustering.DistanceThreshold),
		MaxIterations:       cfg.Clustering.MaxIterations,
		Seed:                cfg.Clustering.Seed,
	}
	if groupingThreshold > 0 {
		opts.SimilarityThreshold = core.InverseDistanceSimilarity(groupingThreshold)
	}

	groups, err := eng.GroupResults(cmd.Context(), results, opts)
	if err != nil {
		return fmt.Errorf("grouping failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	}

	if len(groups) == 0 {
		fmt.Println("No matches found")
		return nil
	}

	for i, g := range groups {
		fmt.Printf("Group %d (%d members)\n", i+1, len(g.Members))
		for _, id := range g.Members {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}
