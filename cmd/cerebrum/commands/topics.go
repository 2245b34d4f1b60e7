package commands

import (
	"fmt"
	"strings"

	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the broker topics and their message types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("TOPIC", "MESSAGE", "STATUS")
		for _, t := range protocol.Topics() {
			msg, err := protocol.New(t)
			if err != nil {
				return err
			}
			if err := table.Append([]string{t.String(), messageName(msg), "active"}); err != nil {
				return err
			}
		}
		for _, t := range protocol.ReservedTopics() {
			if err := table.Append([]string{t.String(), "-", "reserved"}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}

func messageName(msg protocol.Message) string {
	name := fmt.Sprintf("%T", msg)
	return name[strings.LastIndexByte(name, '.')+1:]
}
