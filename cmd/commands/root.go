package commands

// Root command for Cobra CLI
// Running the root command starts the sweeper; `check` only validates the key file

import (
	"electrum-sweeper/internal/infra/config"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "electrum-sweeper",
	Short: "Sweep funded private keys to their target addresses through Electrum",
	Long: `electrum-sweeper restores a list of private keys into a throwaway Electrum wallet,
polls it for funded keys and sweeps every funded key to its target address, forever.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSweeper,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./config.yaml)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(checkCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Flags(), config.LoadOptions{ConfigFile: configFile})
}
