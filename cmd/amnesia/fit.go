package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a projection basis over the stored corpus",
	Long: `Computes a fresh PCA basis from every stored embedding, reduces the
corpus, rebuilds the hash index and publishes the new basis. Queries
keep using the previous basis until the new one is published.`,
	Args: cobra.NoArgs,
	RunE: runFit,
}

func init() {
	rootCmd.AddCommand(fitCmd)

	fitCmd.Flags().Int("target-dim", 0, "Reduced dimensionality (defaults to the configured value)")
}

func runFit(cmd *cobra.Command, args []string) error {
	targetDim, _ := cmd.Flags().GetInt("target-dim")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if targetDim <= 0 {
		targetDim = cfg.Index.Params.TargetDim
	}

	eng, cleanup, err := openEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := eng.Fit(cmd.Context(), targetDim); err != nil {
		return fmt.Errorf("fit failed: %w", err)
	}

	fmt.Printf("Published basis %s (target dimension %d)\n", eng.BasisVersion(), targetDim)
	return nil
}
