package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harlier/metamove/internal/manifest"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a bundle's integrity offline",
	Long: `Check a bundle's manifest revision and every payload checksum without
contacting any instance.

Exit codes:
  0 - bundle is intact
  1 - manifest or a payload does not match its recorded checksum`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m, err := manifest.ReadFile(cfg.BundleDir)
	if err != nil {
		return err
	}

	var bad int
	check := func(file, checksum string) {
		path := filepath.Join(cfg.BundleDir, file)
		data, err := os.ReadFile(path)
		if err == nil {
			err = manifest.VerifyPayload(path, data, checksum)
		}
		if err != nil {
			bad++
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
	for _, card := range m.Cards {
		check(card.File, card.Checksum)
	}
	for _, dash := range m.Dashboards {
		check(dash.File, dash.Checksum)
	}

	total := len(m.Cards) + len(m.Dashboards)
	if bad > 0 {
		return fmt.Errorf("bundle verification failed: %d of %d payload(s) bad", bad, total)
	}
	fmt.Printf("Bundle %s is intact (%s, %d payloads)\n", cfg.BundleDir, m.Meta.ManifestRev, total)
	return nil
}
