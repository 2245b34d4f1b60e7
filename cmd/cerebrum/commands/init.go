package commands

import (
	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter cerebrum.yml",
	Long: `Write a commented cerebrum.yml with the default configuration.

Use --force to overwrite an existing file.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing cerebrum.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write cerebrum.yml into")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := scaffold.Initialize(initDir, forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	printer.Success("Created %s\n", path)
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Export OPENROUTER_API_KEY, or point completion at another provider\n")
	printer.Info("  2. Run 'cerebrum run --config %s --ticker AAPL'\n", path)
	return nil
}
