package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/mailsync/internal/config"
	"github.com/teemow/mailsync/internal/credential"
	"github.com/teemow/mailsync/internal/store"
)

// openSecrets is replaced in tests.
var openSecrets = func() (*credential.Store, error) {
	return credential.Open(filepath.Join(config.DefaultDir(), "credentials"))
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
		Long: `Store client secrets and the token encryption key in the OS keyring
instead of the config file. Keys use config names, for example:

  providers.google.client_secret
  security.encryption_key`,
	}
	cmd.AddCommand(newSecretSetCmd())
	cmd.AddCommand(newSecretDeleteCmd())
	cmd.AddCommand(newSecretListCmd())
	cmd.AddCommand(newSecretKeygenCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "set KEY",
		Short: "Store a secret. The value is read from stdin unless --value is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if value == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading secret from stdin: %w", err)
				}
				value = strings.TrimSpace(line)
			}
			if value == "" {
				return errors.New("secret value is empty")
			}

			ring, err := openSecrets()
			if err != nil {
				return err
			}
			if err := ring.Set(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "Secret value (visible in shell history; prefer stdin)")
	return cmd
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := openSecrets()
			if err != nil {
				return err
			}
			if err := ring.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := openSecrets()
			if err != nil {
				return err
			}
			keys, err := ring.Keys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func newSecretKeygenCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a token encryption key",
		Long: `Generate a random 32-byte key for encrypting tokens at rest. The key is
printed, or stored in the keyring as security.encryption_key with --save.
Changing the key makes previously stored tokens unreadable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := store.GenerateKey()
			if err != nil {
				return err
			}
			if !save {
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}

			ring, err := openSecrets()
			if err != nil {
				return err
			}
			if existing, err := ring.Lookup(credential.EncryptionKeyName); err != nil {
				return err
			} else if existing != "" {
				return errors.New("an encryption key is already stored; delete it first with `mailsync secret delete security.encryption_key`")
			}
			if err := ring.Set(credential.EncryptionKeyName, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", credential.EncryptionKeyName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Store the key in the keyring instead of printing it")
	return cmd
}
