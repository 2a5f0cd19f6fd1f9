package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage connected mailboxes",
	}
	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsConnectCmd())
	cmd.AddCommand(newAccountsDisconnectCmd())
	return cmd
}

func newAccountsListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the accounts of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			a, err := newApp(cmd.Context(), cfg, nil, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.svc.ListAccounts(cmd.Context(), userID)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROVIDER\tEMAIL\tACTIVE\tLAST SYNC")
			for _, acc := range accounts {
				lastSync := "never"
				if acc.LastSyncedAt != nil {
					lastSync = acc.LastSyncedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", acc.ID, acc.Provider, acc.Email, acc.Active, lastSync)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User whose accounts to list")
	return cmd
}

func newAccountsConnectCmd() *cobra.Command {
	var userID, providerName string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Print a consent URL that connects a mailbox",
		Long: `Print the provider consent URL for a user. The provider redirects to the
configured redirect URL, which must be served by "mailsync serve".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || providerName == "" {
				return errors.New("--user and --provider are required")
			}
			a, err := newApp(cmd.Context(), cfg, nil, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			url, err := a.svc.IssueAuthURL(cmd.Context(), userID, providerName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User the mailbox will belong to")
	cmd.Flags().StringVar(&providerName, "provider", "", "Mail provider: google, outlook or yahoo")
	return cmd
}

func newAccountsDisconnectCmd() *cobra.Command {
	var userID, accountID string
	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Deactivate an account. Stored messages are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || accountID == "" {
				return errors.New("--user and --account are required")
			}
			a, err := newApp(cmd.Context(), cfg, nil, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.DisconnectAccount(cmd.Context(), accountID, userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s disconnected\n", accountID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User owning the account")
	cmd.Flags().StringVar(&accountID, "account", "", "Account to disconnect")
	return cmd
}
