package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harlier/metamove/internal/domain"
	"github.com/harlier/metamove/internal/imports"
	"github.com/harlier/metamove/internal/mapping"
	"github.com/harlier/metamove/internal/state"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bundle into the target instance",
	Long: `Import a previously exported bundle into the target instance.

Cards are imported in dependency order and their queries rewritten to the
target's database, table, field, and card IDs. Items already present on the
target are handled per the conflict strategy.

Examples:
  metamove import                            # import into the target root
  metamove import --into 42                  # import under collection 42
  metamove import --conflict overwrite       # replace existing items
  metamove import --conflict rename          # keep both, rename incoming`,
	RunE: runImport,
}

var (
	importInto     int
	importConflict string
	importJSON     bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().IntVar(&importInto, "into", 0, "Target collection to import under (0 = root)")
	importCmd.Flags().StringVar(&importConflict, "conflict", "", "Conflict strategy: skip, overwrite, or rename")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "Output the report as JSON")
}

func runImport(cmd *cobra.Command, args []string) error {
	imp, store, err := buildImporter()
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := imp.Run(cmd.Context())
	if err != nil {
		return err
	}

	if importJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if report.Failed() {
		return fmt.Errorf("import finished with %d failed item(s)", report.Summary.Failed)
	}
	return nil
}

// buildImporter wires config, clients, and state into an importer. The
// caller owns the returned store.
func buildImporter() (*imports.Importer, *state.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if importConflict != "" {
		cfg.Conflict = importConflict
	}
	if err := cfg.Validate(false, true); err != nil {
		return nil, nil, err
	}

	dbMap, err := mapping.LoadDatabaseMap(cfg.DBMapPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to load database map: %w", err)
		}
		fmt.Fprintf(os.Stderr, "warning: no database map at %s, databases will not resolve\n", cfg.DBMapPath)
		dbMap = &mapping.DatabaseMap{}
	}

	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	tgt := newClient(cfg, cfg.Target)
	imp := imports.New(tgt, imports.Options{
		BundleDir:      cfg.BundleDir,
		DBMap:          dbMap,
		Conflict:       domain.ConflictStrategy(cfg.Conflict),
		RootCollection: importInto,
		Store:          store,
		TargetURL:      cfg.Target.URL,
	})
	return imp, store, nil
}

func printReport(report *imports.Report) {
	fmt.Printf("Import %s: %s\n", report.RunID, report.Detail())
	for _, item := range report.Items {
		line := fmt.Sprintf("  %-10s %-9s %s", item.Type, item.Status, item.Name)
		if item.TargetID != 0 {
			line += fmt.Sprintf(" (target %d)", item.TargetID)
		}
		fmt.Println(line)
		if item.Error != "" {
			fmt.Printf("    error: %s\n", item.Error)
		}
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}
