package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/mailsync/internal/config"
	"github.com/teemow/mailsync/internal/logging"
)

// rootCmd represents the base command for the mailsync application
var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "Connects mailboxes over OAuth and syncs their messages into one store",
	Long: `mailsync connects Gmail, Outlook and Yahoo mailboxes through OAuth2 and
keeps a canonical copy of their messages in SQLite or PostgreSQL.

It can run as:
  - An HTTP API server with optional periodic sync (serve)
  - An MCP (Model Context Protocol) server for AI assistants (serve --transport stdio)
  - One-shot CLI commands (sync, accounts, cleanup)`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// version will be set by main
var version = "dev"

var (
	cfgFile  string
	settings = config.New("")
	cfg      *config.Config
)

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailsync version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: ./mailsync.yaml or ~/.config/mailsync/mailsync.yaml)")
	flags.String("log-format", "text", "Log format: text or json. Can also use MAILSYNC_LOG_FORMAT env var.")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("database-driver", "sqlite", "Database driver: sqlite or postgres. Can also use MAILSYNC_DATABASE_DRIVER env var.")
	flags.String("database-dsn", "mailsync.db", "Database file or connection URL. Can also use MAILSYNC_DATABASE_DSN env var.")

	bindFlag(rootCmd, true, "log.format", "log-format")
	bindFlag(rootCmd, true, "database.driver", "database-driver")
	bindFlag(rootCmd, true, "database.dsn", "database-dsn")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSecretCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadConfig merges file, env and flags and installs the process logger.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if cfgFile != "" {
		settings.SetConfigFile(cfgFile)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		settings.Set("log.level", "debug")
	}

	loaded, err := config.Load(settings)
	if err != nil {
		return err
	}
	cfg = loaded

	slog.SetDefault(logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level))
	if used := settings.ConfigFileUsed(); used != "" {
		slog.Debug("config loaded", "file", used)
	}
	return nil
}

// bindFlag binds a flag to a config key so an explicitly set flag wins over
// the file and the environment.
func bindFlag(cmd *cobra.Command, persistent bool, key, name string) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	if err := settings.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", name, err))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mailsync version %s\n", version)
		},
	}
}
