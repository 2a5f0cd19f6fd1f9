package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/service"
)

func newSyncCmd() *cobra.Command {
	var (
		userID      string
		accountID   string
		all         bool
		maxMessages int
		folder      string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync mailboxes into the store once",
		Long: `Pull recent messages into the store and print the result as JSON.

  mailsync sync --user alice                 every active account of alice
  mailsync sync --user alice --account <id>  one account
  mailsync sync --all                        every user

The command exits non-zero when the result contains errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && userID == "" {
				return errors.New("either --user or --all is required")
			}
			if accountID != "" && userID == "" {
				return errors.New("--account requires --user")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, nil, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := runSync(ctx, a.svc, userID, accountID, maxMessages, folder)
			if err != nil {
				return err
			}
			return printSyncResult(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User to sync")
	cmd.Flags().StringVar(&accountID, "account", "", "Only sync this account of --user")
	cmd.Flags().BoolVar(&all, "all", false, "Sync every user with an active account")
	cmd.Flags().IntVar(&maxMessages, "max", 0, "Maximum messages per account (default: sync.max_messages)")
	cmd.Flags().StringVar(&folder, "folder", "", "Folder to sync (default: inbox)")
	return cmd
}

func runSync(ctx context.Context, svc *service.Service, userID, accountID string, maxMessages int, folder string) (model.SyncResult, error) {
	switch {
	case accountID != "":
		return svc.SyncAccount(ctx, accountID, userID, maxMessages, folder)
	case userID != "":
		return svc.SyncUser(ctx, userID, maxMessages, folder), nil
	default:
		return svc.SyncAll(ctx, maxMessages, folder)
	}
}

func printSyncResult(w io.Writer, res model.SyncResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("sync finished with %d errors", len(res.Errors))
	}
	return nil
}
