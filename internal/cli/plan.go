package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what an import would do without touching the target",
	Long: `Compute the actions an import would take against the target instance
and print them without writing anything.

For items that would be overwritten, a unified diff of the card payload is
shown when it can be computed up front.

Examples:
  metamove plan                         # dry run with the configured strategy
  metamove plan --conflict overwrite    # preview overwrites with diffs
  metamove plan --json                  # machine-readable plan`,
	RunE: runPlan,
}

var planJSON bool

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().IntVar(&importInto, "into", 0, "Target collection to import under (0 = root)")
	planCmd.Flags().StringVar(&importConflict, "conflict", "", "Conflict strategy: skip, overwrite, or rename")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Output the plan as JSON")
}

func runPlan(cmd *cobra.Command, args []string) error {
	imp, store, err := buildImporter()
	if err != nil {
		return err
	}
	defer store.Close()

	plan, err := imp.Plan(cmd.Context())
	if err != nil {
		return err
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	fmt.Printf("Plan for %s (%s)\n", plan.BundleDir, plan.ManifestRev)
	for _, a := range plan.Actions {
		line := fmt.Sprintf("  %-7s %-10s %s", a.Op, a.Type, a.Name)
		if a.TargetID != 0 {
			line += fmt.Sprintf(" (target %d)", a.TargetID)
		}
		fmt.Println(line)
		if a.Error != "" {
			fmt.Printf("    error: %s\n", a.Error)
		}
		if a.Diff != "" {
			fmt.Println(indent(a.Diff, "    "))
		}
	}
	for _, w := range plan.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return nil
}
