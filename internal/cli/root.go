package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "metamove",
	Short: "Migrate analytics content between instances",
	Long: `metamove exports collections, saved questions and dashboards from one
analytics instance and imports them into another, rewriting every query
against the target's database, table, field and card identifiers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var (
	flagBundleDir string
	flagDBMap     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBundleDir, "bundle", "", "Bundle directory (overrides METAMOVE_BUNDLE_DIR)")
	rootCmd.PersistentFlags().StringVar(&flagDBMap, "db-map", "", "Database mapping file (overrides METAMOVE_DB_MAP)")
}
