package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/wayfarer/internal/store"
)

// newHistoryCmd creates the `history` command, which lists recent sessions
// from the database.
func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recent sessions recorded in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := a.cfg.Database().URL
			if url == "" {
				return errors.New("database URL is not configured (WAYFARER_DATABASE_URL)")
			}
			st, closeDB, err := store.Connect(cmd.Context(), url, a.logger)
			if err != nil {
				return err
			}
			defer closeDB()

			sessions, err := st.RecentSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tTARGET\tREASON\tSTEPS\tSTARTED\tDURATION\tFINAL URL")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					s.ID, s.Target, s.Reason, s.Steps,
					s.StartedAt.Local().Format(time.DateTime),
					s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond),
					s.FinalURL)
			}
			return tw.Flush()
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list")
	return historyCmd
}
