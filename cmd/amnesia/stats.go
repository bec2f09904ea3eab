package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, cleanup, err := openEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	stats := eng.Stats()

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Printf("Points:        %d\n", stats.Points)
	fmt.Printf("Deleted:       %d\n", stats.Deleted)
	fmt.Printf("Dimension:     %d\n", stats.Dimension)
	if stats.BasisVersion != "" {
		fmt.Printf("Basis:         %s\n", stats.BasisVersion)
		fmt.Printf("Target dim:    %d\n", stats.TargetDim)
		fmt.Printf("Index:         %s (%d entries)\n", stats.IndexType, stats.IndexSize)
	} else {
		fmt.Println("Basis:         not fit")
	}
	return nil
}
