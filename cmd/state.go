// -- cmd/state.go --
package cmd

import (
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/marionette/internal/observability"
	"github.com/xkilldash9x/marionette/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted agent state as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.NewStore(cfg.Storage.DataDir, observability.GetLogger())
		if err != nil {
			return fmt.Errorf("failed to open state store: %w", err)
		}

		st := store.State()
		raw, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
}
