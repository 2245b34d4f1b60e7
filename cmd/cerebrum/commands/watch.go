package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchInstanceName string
	watchRedisURL     string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow task transitions of a running instance",
	Long: `Stream task state transitions from the Redis task journal as they occur.

Only instances running with the redis broker transport publish a journal.

Output Formats:
  default - Human-readable coloured output
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the instance named in the configuration
  cerebrum watch

  # Watch a specific instance
  cerebrum watch --instance prod

  # Export events as JSON
  cerebrum watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchInstanceName, "instance", "n", "", "Instance name (defaults to broker.instance)")
	watchCmd.Flags().StringVar(&watchRedisURL, "redis-url", "", "Redis URL (defaults to broker.redis_url)")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, json"})
	}

	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journal, rdb, instance, err := openJournal(ctx, cfg, watchRedisURL, watchInstanceName)
	if err != nil {
		return err
	}
	defer rdb.Close()

	sub, err := journal.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	if format == watch.OutputFormatDefault {
		printer.Info("Watching instance '%s' (Ctrl+C to stop)\n", instance)
	}
	return watch.Stream(ctx, sub, format, cmd.OutOrStdout())
}
