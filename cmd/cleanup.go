package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired OAuth states",
		Long: `Delete OAuth states that expired before they were used. "serve" does this
on every background sync; run it from cron when periodic sync is off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg, nil, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.PurgeStates(cmd.Context())
			if err != nil {
				return fmt.Errorf("purging oauth states: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired OAuth states\n", n)
			return nil
		},
	}
	return cmd
}
