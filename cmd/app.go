package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/teemow/mailsync/internal/config"
	"github.com/teemow/mailsync/internal/credential"
	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/oauthstate"
	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/provider/google"
	"github.com/teemow/mailsync/internal/provider/outlook"
	"github.com/teemow/mailsync/internal/provider/yahoo"
	"github.com/teemow/mailsync/internal/service"
	"github.com/teemow/mailsync/internal/store"
)

// secretLookup returns a stored secret or "" when it is not set.
type secretLookup func(key string) (string, error)

// app is the component graph shared by the commands.
type app struct {
	store  *store.Store
	states *oauthstate.MemoryStore
	svc    *service.Service
}

func (a *app) Close() error {
	if a.states != nil {
		a.states.Close()
	}
	return a.store.Close()
}

// openStore opens the configured database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, secrets secretLookup, logger *slog.Logger) (*store.Store, error) {
	encoded := cfg.Security.EncryptionKey
	if encoded == "" && secrets != nil {
		v, err := secrets(credential.EncryptionKeyName)
		if err != nil {
			logger.Warn("encryption key lookup failed, tokens are stored unencrypted", "error", err)
		}
		encoded = v
	}
	key, err := store.KeyFromBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("security.encryption_key: %w", err)
	}
	if key == nil {
		logger.Warn("no encryption key configured, tokens are stored unencrypted")
	}

	return store.Open(ctx, store.Config{
		Driver:        cfg.Database.Driver,
		DSN:           cfg.Database.DSN,
		EncryptionKey: key,
		Logger:        logger,
	})
}

// newApp builds the store, the provider adapters and the service. instr may
// be nil for one-shot commands.
func newApp(ctx context.Context, cfg *config.Config, instr *instrumentation.Provider, logger *slog.Logger) (*app, error) {
	secrets := keyringLookup()
	metrics := instr.Metrics()

	st, err := openStore(ctx, cfg, secrets, logger)
	if err != nil {
		return nil, err
	}

	caller := provider.NewCaller(provider.CallerConfig{
		Timeout: cfg.Sync.CallTimeout,
		Logger:  logger,
		Metrics: metrics,
	})
	httpClient := &http.Client{Transport: instr.HTTPTransport(nil)}
	adapters, err := buildAdapters(cfg, secrets, caller, httpClient, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{store: st}
	opts := service.Options{
		StateTTL:    cfg.OAuth.StateTTL,
		Concurrency: cfg.Sync.Concurrency,
		MaxMessages: cfg.Sync.MaxMessages,
		Logger:      logger,
		Metrics:     metrics,
	}
	if cfg.OAuth.StateStore == config.StateStoreMemory {
		a.states = oauthstate.NewMemoryStore(logger)
		opts.StateStore = a.states
	}
	a.svc = service.New(st, adapters, opts)
	return a, nil
}

// buildAdapters creates an adapter for every provider with a client id.
// A missing client secret is looked up in the keyring. A nil httpClient
// selects provider.NewHTTPClient.
func buildAdapters(cfg *config.Config, secrets secretLookup, caller *provider.Caller, httpClient *http.Client, logger *slog.Logger) (*provider.Set, error) {
	var adapters []provider.Adapter
	for _, p := range model.Providers {
		pc := cfg.Provider(p)
		if pc.ClientID == "" {
			continue
		}
		secret := pc.ClientSecret
		if secret == "" && secrets != nil {
			v, err := secrets(credential.ClientSecretKey(p))
			if err != nil {
				return nil, fmt.Errorf("looking up %s client secret: %w", p, err)
			}
			secret = v
		}
		if secret == "" {
			return nil, fmt.Errorf("providers.%s.client_secret is not set (config, MAILSYNC_PROVIDERS_%s_CLIENT_SECRET or `mailsync secret set %s`)",
				p, strings.ToUpper(string(p)), credential.ClientSecretKey(p))
		}

		pcfg := provider.Config{
			ClientID:     pc.ClientID,
			ClientSecret: secret,
			RedirectURL:  pc.RedirectURL,
			HTTPClient:   httpClient,
		}
		switch p {
		case model.ProviderGoogle:
			adapters = append(adapters, google.New(pcfg, caller, logger))
		case model.ProviderOutlook:
			adapters = append(adapters, outlook.New(pcfg, caller, logger))
		case model.ProviderYahoo:
			var opts []yahoo.Option
			if pc.IMAPAddr != "" {
				opts = append(opts, yahoo.WithIMAPAddr(pc.IMAPAddr))
			}
			adapters = append(adapters, yahoo.New(pcfg, caller, logger, opts...))
		}
		logger.Debug("provider configured", "provider", string(p))
	}

	if len(adapters) == 0 {
		logger.Warn("no mail providers configured; set providers.<name>.client_id")
	}
	return provider.NewSet(adapters...), nil
}

// configuredProviders lists the providers that have a client id.
func configuredProviders(cfg *config.Config) []string {
	var names []string
	for _, p := range model.Providers {
		if cfg.Provider(p).ClientID != "" {
			names = append(names, string(p))
		}
	}
	return names
}

// keyringLookup opens the keyring lazily; a keyring that cannot be opened
// behaves as empty.
func keyringLookup() secretLookup {
	var (
		ring    *credential.Store
		openErr error
		opened  bool
	)
	return func(key string) (string, error) {
		if !opened {
			opened = true
			ring, openErr = credential.Open(filepath.Join(config.DefaultDir(), "credentials"))
			if openErr != nil {
				slog.Debug("keyring unavailable", "error", openErr)
			}
		}
		if openErr != nil {
			return "", nil
		}
		v, err := ring.Lookup(key)
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return "", err
		}
		return v, nil
	}
}
