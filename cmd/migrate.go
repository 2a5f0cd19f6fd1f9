package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), cfg, keyringLookup(), slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()

			v, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s is at schema version %d\n", cfg.Database.Driver, v)
			return nil
		},
	}
}
