package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dyluth/cerebrum/internal/indicators"
	"github.com/dyluth/cerebrum/internal/marketdata"
	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/timespec"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	indicatorsPeriod string
	indicatorsStart  string
	indicatorsEnd    string
	indicatorsYAML   bool
)

var indicatorsCmd = &cobra.Command{
	Use:   "indicators TICKER",
	Short: "Print the technical signals for a ticker",
	Long: `Fetch price history and print the computed indicator signals without
running any agents or completions.

Examples:
  cerebrum indicators AAPL
  cerebrum indicators TSLA --period 1y
  cerebrum indicators MSFT --yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runIndicators,
}

func init() {
	indicatorsCmd.Flags().StringVarP(&indicatorsPeriod, "period", "p", "", "Named history period, e.g. 6mo")
	indicatorsCmd.Flags().StringVar(&indicatorsStart, "start", "", "Start of the history window")
	indicatorsCmd.Flags().StringVar(&indicatorsEnd, "end", "", "End of the history window")
	indicatorsCmd.Flags().BoolVar(&indicatorsYAML, "yaml", false, "Print the indicator document handed to the analyst")
	rootCmd.AddCommand(indicatorsCmd)
}

func runIndicators(cmd *cobra.Command, args []string) error {
	ticker := strings.ToUpper(strings.TrimSpace(args[0]))
	filter, err := timespec.Filter(indicatorsPeriod, indicatorsStart, indicatorsEnd, time.Now())
	if err != nil {
		return printer.Error("invalid history window", err.Error(), nil)
	}

	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	provider, err := marketdata.Select(cfg.MarketData)
	if err != nil {
		return printer.Error(
			"no market data provider",
			err.Error(),
			[]string{"Give YahooFinance the lowest priority number under market_data.providers"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	series, err := provider.Retrieve(ctx, ticker, filter)
	if err != nil {
		return printer.ErrorWithContext(
			"failed to retrieve market data",
			err.Error(),
			map[string]string{"ticker": ticker, "filter": filter.String(), "provider": provider.Name()},
			[]string{"Check the ticker symbol exists on " + provider.Name()},
		)
	}

	report, err := indicators.Compute(series)
	if err != nil {
		return printer.Error("failed to compute indicators", err.Error(), nil)
	}

	out := cmd.OutOrStdout()
	if indicatorsYAML {
		doc, err := report.YAML()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(out, doc)
		return err
	}

	fmt.Fprintf(out, "%s as of %s (%d bars, %s)\n\n", report.Ticker, report.AsOf, report.Bars, filter)
	return writeSignals(out, report.Signals())
}

func writeSignals(w io.Writer, signals []indicators.Signal) error {
	table := tablewriter.NewWriter(w)
	table.Header("INDICATOR", "VALUE", "READING", "DIRECTION")
	for _, s := range signals {
		if err := table.Append([]string{s.Name, s.Value, s.Reading, s.Interpretation}); err != nil {
			return err
		}
	}
	return table.Render()
}
