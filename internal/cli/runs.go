package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harlier/metamove/internal/state"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent export and import runs",
	Long: `List recent runs recorded in the local state store, newest first.

Examples:
  metamove runs             # last 20 runs
  metamove runs --limit 5   # last 5 runs
  metamove runs --json      # machine-readable history`,
	RunE: runRuns,
}

var (
	runsLimit int
	runsJSON  bool
)

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to show")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Output runs as JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(runsLimit)
	if err != nil {
		return err
	}

	if runsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %-7s %-9s %s", r.StartedAt, r.Kind, r.Status, r.ID)
		if r.Detail != "" {
			fmt.Printf("  %s", r.Detail)
		}
		fmt.Println()
	}
	return nil
}
