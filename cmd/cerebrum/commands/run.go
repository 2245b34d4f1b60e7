package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/console"
	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/supervisor"
	"github.com/dyluth/cerebrum/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	runTicker      string
	runPeriod      string
	runStart       string
	runEnd         string
	runInteractive bool
	runReviewScope string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyse one ticker end to end",
	Long: `Run the agents for a single ticker and print the final report.

The ticker is prompted for when --ticker is not given. The history window
is either a named period (1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd, max)
or a --start/--end range; with neither the last 3 months are used.

Exit codes:
  0   - a report was presented
  1   - the analysis failed or the configuration is invalid
  130 - interrupted

Examples:
  # Analyse AAPL over the last 6 months
  cerebrum run --ticker AAPL --period 6mo

  # Give feedback on each draft before it goes to review
  cerebrum run --ticker MSFT --interactive

  # A fixed window; relative forms such as 30d are accepted too
  cerebrum run --ticker NVDA --start 2024-01-01 --end 2024-06-30`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runTicker, "ticker", "t", "", "Ticker symbol to analyse (prompted for if omitted)")
	runCmd.Flags().StringVarP(&runPeriod, "period", "p", "", "Named history period, e.g. 3mo")
	runCmd.Flags().StringVar(&runStart, "start", "", "Start of the history window (YYYY-MM-DD, RFC3339 or relative like 30d)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "End of the history window (defaults to now)")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Ask for feedback on each analysis draft")
	runCmd.Flags().StringVar(&runReviewScope, "review-scope", "", "Chief review budget: per_agent or per_task")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	filter, err := timespec.Filter(runPeriod, runStart, runEnd, time.Now())
	if err != nil {
		return printer.Error(
			"invalid history window",
			err.Error(),
			[]string{
				"Use either --period or --start/--end, not both",
				"Example: cerebrum run --ticker AAPL --period 6mo",
			},
		)
	}

	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := applyRunFlags(cmd, cfg); err != nil {
		return printer.Error("invalid flag", err.Error(), nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var input console.Collector
	if cfg.Workflow.Interactive || runTicker == "" {
		rl, err := console.NewReadline(os.Stdin, cmd.OutOrStdout())
		if err != nil {
			return printer.Error("failed to open the console", err.Error(), nil)
		}
		defer rl.Close()
		input = rl
	}

	sup, err := supervisor.New(ctx, supervisor.Options{
		Config:   cfg,
		Input:    input,
		Narrator: printer.NewNarrator(cmd.OutOrStdout()),
	})
	if err != nil {
		return printer.ErrorWithContext(
			"failed to start the agents",
			err.Error(),
			map[string]string{
				"completion": cfg.Completion.Provider + " " + cfg.Completion.BaseURL,
				"transport":  cfg.Broker.Transport,
			},
			[]string{
				"Check the completion API key is set (e.g. OPENROUTER_API_KEY)",
				"Market data providers are tried by priority; only YahooFinance is supported",
			},
		)
	}
	defer sup.Close(context.Background())

	if err := sup.Start(ctx); err != nil {
		return printer.Error("failed to start the agents", err.Error(), nil)
	}

	ticker := strings.ToUpper(strings.TrimSpace(runTicker))
	if ticker == "" {
		ticker, err = console.Ticker(ctx, input)
		if err != nil {
			if errors.Is(err, console.ErrInterrupted) || ctx.Err() != nil {
				return &ExitError{Code: ExitInterrupted, Err: err}
			}
			return printer.Error("no ticker given", err.Error(), []string{"Pass --ticker to skip the prompt"})
		}
	}

	if err := sup.Submit(ctx, ticker, filter); err != nil {
		return printer.Error("failed to submit the request", err.Error(), nil)
	}

	select {
	case <-sup.Done():
	case <-ctx.Done():
		printer.Warning("interrupted\n")
		return &ExitError{Code: ExitInterrupted, Err: ctx.Err()}
	}

	if failures := sup.Failures(); len(failures) > 0 {
		f := failures[0]
		return &ExitError{
			Code: ExitFailure,
			Err: printer.ErrorWithContext(
				"analysis failed",
				f.Error,
				map[string]string{"task": f.TaskID, "role": f.Role, "stage": f.Stage.String()},
				nil,
			),
		}
	}
	if sup.Report() == "" {
		return &ExitError{Code: ExitFailure, Err: printer.Error("no report was presented", "The run ended before the chief analyst presented a report.", nil)}
	}

	printer.Success("Analysis of %s complete\n", ticker)
	return nil
}

// applyRunFlags overrides the workflow section with the flags that were
// set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("interactive") {
		cfg.Workflow.Interactive = runInteractive
	}
	if cmd.Flags().Changed("review-scope") {
		cfg.Workflow.ReviewScope = runReviewScope
	}
	return cfg.Workflow.Validate()
}
