package commands

import (
	"context"
	"time"

	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/watch"
	"github.com/spf13/cobra"
)

var (
	tasksInstanceName string
	tasksRedisURL     string
	tasksOutputFormat string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the tasks recorded by an instance",
	Long: `List every task in the Redis task journal with its current state.

Examples:
  cerebrum tasks --instance prod
  cerebrum tasks --output=json | jq 'select(.state == "FAILED")'`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

func init() {
	tasksCmd.Flags().StringVarP(&tasksInstanceName, "instance", "n", "", "Instance name (defaults to broker.instance)")
	tasksCmd.Flags().StringVar(&tasksRedisURL, "redis-url", "", "Redis URL (defaults to broker.redis_url)")
	tasksCmd.Flags().StringVarP(&tasksOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(tasksOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, json"})
	}

	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := context.Background()
	journal, rdb, instance, err := openJournal(ctx, cfg, tasksRedisURL, tasksInstanceName)
	if err != nil {
		return err
	}
	defer rdb.Close()

	records, err := journal.List(ctx)
	if err != nil {
		return err
	}
	if format == watch.OutputFormatJSON {
		return watch.FormatJSONL(cmd.OutOrStdout(), records)
	}
	return watch.FormatTable(cmd.OutOrStdout(), records, instance, time.Now())
}
