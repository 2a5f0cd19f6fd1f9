// Package config loads mailsync settings from a YAML file, MAILSYNC_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teemow/mailsync/internal/model"
)

// EnvPrefix is prepended to every environment variable, so database.dsn is
// read from MAILSYNC_DATABASE_DSN.
const EnvPrefix = "MAILSYNC"

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// SecurityConfig holds the token encryption key.
type SecurityConfig struct {
	// EncryptionKey is a base64 encoded 32-byte key. Empty disables encryption.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// State store backends.
const (
	StateStoreDatabase = "database"
	StateStoreMemory   = "memory"
)

// OAuthConfig tunes the connect flow.
type OAuthConfig struct {
	StateTTL time.Duration `mapstructure:"state_ttl"`
	// StateStore is "database" or "memory". Memory states do not survive a
	// restart and are not shared between processes.
	StateStore string `mapstructure:"state_store"`
}

// SyncConfig tunes the reconciler and outbound calls.
type SyncConfig struct {
	MaxMessages int           `mapstructure:"max_messages"`
	Concurrency int           `mapstructure:"concurrency"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

// ProviderConfig is the OAuth client registration of one provider.
type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	// IMAPAddr overrides the IMAP server for providers read over IMAP.
	IMAPAddr string `mapstructure:"imap_addr"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// MetricsConfig configures the metrics server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// Config is the full application configuration.
type Config struct {
	Database  DatabaseConfig            `mapstructure:"database"`
	Security  SecurityConfig            `mapstructure:"security"`
	OAuth     OAuthConfig               `mapstructure:"oauth"`
	Sync      SyncConfig                `mapstructure:"sync"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	HTTP      HTTPConfig                `mapstructure:"http"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Log       LogConfig                 `mapstructure:"log"`
}

// Provider returns the registration for p, or the zero value.
func (c *Config) Provider(p model.Provider) ProviderConfig {
	return c.Providers[string(p)]
}

// Validate checks values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	switch c.OAuth.StateStore {
	case "", StateStoreDatabase, StateStoreMemory:
	default:
		return fmt.Errorf("oauth.state_store must be %s or %s, got %q", StateStoreDatabase, StateStoreMemory, c.OAuth.StateStore)
	}
	if c.Sync.MaxMessages < 0 {
		return errors.New("sync.max_messages must not be negative")
	}
	if c.Sync.Concurrency < 0 {
		return errors.New("sync.concurrency must not be negative")
	}
	for name := range c.Providers {
		if _, err := model.ParseProvider(name); err != nil {
			return fmt.Errorf("providers.%s: %w", name, err)
		}
	}
	return nil
}

// DefaultDir returns ~/.config/mailsync.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailsync")
}

// New returns a viper instance with defaults, env binding and the config
// search path set. file, when non-empty, replaces the search path.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("mailsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDir())
	}
	return v
}

// SetDefaults registers the default for every key. AutomaticEnv only
// resolves keys viper knows about, so provider keys are registered too.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "mailsync.db")
	v.SetDefault("security.encryption_key", "")
	v.SetDefault("oauth.state_ttl", 10*time.Minute)
	v.SetDefault("oauth.state_store", StateStoreDatabase)
	v.SetDefault("sync.max_messages", 100)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.call_timeout", 30*time.Second)
	v.SetDefault("sync.interval", time.Duration(0))
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	for _, p := range model.Providers {
		prefix := "providers." + string(p) + "."
		v.SetDefault(prefix+"client_id", "")
		v.SetDefault(prefix+"client_secret", "")
		v.SetDefault(prefix+"redirect_url", "")
		v.SetDefault(prefix+"imap_addr", "")
	}
}

// Load reads the config file, if any, and decodes the merged settings.
// A missing file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
