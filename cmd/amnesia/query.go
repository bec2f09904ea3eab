package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/checktor/amnesiadb/core"
)

var queryCmd = &cobra.Command{
	Use:   "query [file]",
	Short: "Find stored embeddings similar to a query embedding",
	Long: `Reads a single query embedding from a JSON file (a plain array of
numbers), reduces it with the fitted basis and returns the nearest
stored points ranked by exact distance in the reduced space.

Examples:
  # Top 10 nearest points
  amnesia query face.json --top-k 10

  # All points within distance 0.45
  amnesia query face.json --threshold 0.45

  # Output as JSON
  amnesia query face.json --top-k 10 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().Int("top-k", 0, "Maximum number of results")
	queryCmd.Flags().Float32("threshold", 0, "Maximum distance for a match")
	queryCmd.Flags().Bool("json", false, "Output as JSON")
}

func readQueryEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}
	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, fmt.Errorf("failed to parse query file: %w", err)
	}
	return embedding, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	topK, _ := cmd.Flags().GetInt("top-k")
	threshold, _ := cmd.Flags().GetFloat32("threshold")
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

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No matches found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDISTANCE\tSOURCE")
	for _, r := range results {
		source := ""
		if r.Source != nil {
			source = r.Source.MediaPath
			if r.Source.FrameIndex != nil {
				source = fmt.Sprintf("%s#%d", source, *r.Source.FrameIndex)
			}
		}
		fmt.Fprintf(w, "%s\t%.4f\t%s\n", r.ID, r.Distance, source)
	}
	return w.Flush()
}
