package commands

// Command to validate the key file without touching electrum

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the key file and exit",
	Long:  `Parse the key file with the configured duplicate and validation rules and print how many keys it holds.`,
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateKeyFile(); err != nil {
		return err
	}

	store, err := loadKeyStore(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d private keys", cfg.KeyFile, store.Len())
	if store.Duplicates() > 0 {
		fmt.Fprintf(out, ", %d duplicate lines (last target wins)", store.Duplicates())
	}
	fmt.Fprintln(out)
	return nil
}
