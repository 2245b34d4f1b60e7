package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cerebrum",
	Short: "Cerebrum - multi-agent technical stock analysis",
	Long: `Cerebrum runs a small team of AI agents over a publish/subscribe broker
to produce a technical analysis report for a stock ticker.

A market analyst computes indicators and drafts the report, the operator
can give feedback on each draft, and a chief analyst reviews the result
before it is presented.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Strict flag parsing: "cerebrum --ticker AAPL" is an error, not a no-op
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// ExitError carries a process exit code out of a command. The message has
// already been printed when it is returned.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exit codes of cerebrum run.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Errors are printed in colour by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to cerebrum.yml (defaults apply when omitted or missing)")
}
