package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/checktor/amnesiadb/core"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest face embeddings from a JSON file",
	Long: `Reads a JSON array of records of the form

  [{"embedding": [0.1, 0.2, ...], "source": {"media_path": "a.jpg", "box": {...}}}]

and stores each embedding. Every record is assigned a fresh id which is
printed to stdout. When a projection basis has already been fit, new
points become searchable immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

type ingestRecord struct {
	Embedding []float32       `json:"embedding"`
	Source    *core.SourceRef `json:"source,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	var records []ingestRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse input file: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("input file contains no records")
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

	for i, rec := range records {
		var source core.SourceRef
		if rec.Source != nil {
			source = *rec.Source
		}
		id, err := eng.Ingest(cmd.Context(), rec.Embedding, source)
		if err != nil {
			return fmt.Errorf("failed to ingest record %d: %w", i, err)
		}
		fmt.Println(id)
	}

	fmt.Fprintf(os.Stderr, "Ingested %d embeddings\n", len(records))
	return nil
}
