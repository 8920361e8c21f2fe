package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/notifyprobe/internal/cli/formatter"
	"github.com/alexanderramin/notifyprobe/internal/journal"
)

func newHistoryCmd(app *App) *cobra.Command {
	var host, action string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.journal == nil {
				return errJournalDisabled
			}
			switch journal.Action(action) {
			case "", journal.ActionCheck, journal.ActionPut, journal.ActionGet:
			default:
				return fmt.Errorf("unknown action %q (want check, put or get)", action)
			}
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}

			runs, err := app.journal.History(cmd.Context(), journal.RunFilter{
				Host:   host,
				Action: journal.Action(action),
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatHistory(runs, app.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "only runs against this host")
	cmd.Flags().StringVar(&action, "action", "", "only runs of this action (check|put|get)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show (0 for all)")
	return cmd
}
