// -- cmd/logs.go --
package cmd

import (
	"fmt"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/marionette/internal/state"
)

var (
	logsFollow bool
	logsCount  int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent action log entries.",
	RunE: func(cmd *cobra.Command, args []string) error {
		journal, err := state.NewJournal(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open action journal: %w", err)
		}

		entries, err := journal.Tail(logsCount)
		if err != nil {
			return fmt.Errorf("failed to read action log: %w", err)
		}
		for _, entry := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n",
				entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Summary)
		}

		if !logsFollow {
			return nil
		}

		t, err := tail.TailFile(journal.Path(), tail.Config{
			Follow:   true,
			ReOpen:   true,
			Location: &tail.SeekInfo{Offset: 0, Whence: 2},
			Logger:   tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("failed to follow action log: %w", err)
		}
		defer t.Cleanup()

		for line := range t.Lines {
			if line.Err != nil {
				continue
			}
			var entry state.LogEntry
			if err := json.Unmarshal([]byte(line.Text), &entry); err != nil {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n",
				entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Summary)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream new entries as they are written")
	logsCmd.Flags().IntVarP(&logsCount, "count", "n", 50, "number of recent entries to show")
	rootCmd.AddCommand(logsCmd)
}
