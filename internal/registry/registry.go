// Package registry is the catalogue of connected mailboxes. It owns account
// persistence and is the single point that maps an account to the adapter of
// its provider.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/store"
)

// Registry reads and writes email accounts.
type Registry struct {
	store    *store.Store
	adapters *provider.Set
	logger   *slog.Logger
}

// New creates a Registry.
func New(st *store.Store, adapters *provider.Set, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    st,
		adapters: adapters,
		logger:   logger.With("component", "registry"),
	}
}

// FindByUser returns the user's active accounts.
func (r *Registry) FindByUser(ctx context.Context, userID string) ([]model.EmailAccount, error) {
	return r.store.ListAccounts(ctx, userID, true)
}

// ListByUser returns all of the user's accounts, including disconnected ones.
func (r *Registry) ListByUser(ctx context.Context, userID string) ([]model.EmailAccount, error) {
	return r.store.ListAccounts(ctx, userID, false)
}

// FindByID returns the account if it belongs to userID. Accounts of other
// users are reported as not found.
func (r *Registry) FindByID(ctx context.Context, accountID, userID string) (*model.EmailAccount, error) {
	acc, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.UserID != userID {
		return nil, fmt.Errorf("account %s: %w", accountID, model.ErrAccountNotFound)
	}
	return acc, nil
}

// Get returns the account without an ownership check.
func (r *Registry) Get(ctx context.Context, accountID string) (*model.EmailAccount, error) {
	return r.store.GetAccount(ctx, accountID)
}

// Upsert connects a mailbox. An existing (user, email, provider) account is
// reactivated and its tokens replaced.
func (r *Registry) Upsert(ctx context.Context, acc model.EmailAccount) (*model.EmailAccount, error) {
	if _, err := r.adapters.Get(acc.Provider); err != nil {
		return nil, err
	}
	saved, err := r.store.UpsertAccount(ctx, acc)
	if err != nil {
		return nil, err
	}
	r.logger.Info("email account connected",
		logging.AccountID(saved.ID),
		logging.Provider(string(saved.Provider)),
		logging.UserHash(saved.Email))
	return saved, nil
}

// UpdateTokens replaces the account's token pair.
func (r *Registry) UpdateTokens(ctx context.Context, accountID string, tokens model.TokenPair) error {
	return r.store.UpdateTokens(ctx, accountID, tokens)
}

// Deactivate disconnects the account. It stays stored and is skipped by syncs
// until it is connected again.
func (r *Registry) Deactivate(ctx context.Context, accountID string) error {
	if err := r.store.SetActive(ctx, accountID, false); err != nil {
		return err
	}
	r.logger.Info("email account deactivated", logging.AccountID(accountID))
	return nil
}

// MarkSynced records the completion time of a successful sync.
func (r *Registry) MarkSynced(ctx context.Context, accountID string, at time.Time) error {
	return r.store.MarkSynced(ctx, accountID, at)
}

// UserIDs returns every user owning an active account.
func (r *Registry) UserIDs(ctx context.Context) ([]string, error) {
	return r.store.ListActiveUserIDs(ctx)
}

// AdapterFor returns the adapter serving the account's provider.
func (r *Registry) AdapterFor(acc *model.EmailAccount) (provider.Adapter, error) {
	return r.adapters.Get(acc.Provider)
}

// Adapter returns the adapter for p.
func (r *Registry) Adapter(p model.Provider) (provider.Adapter, error) {
	return r.adapters.Get(p)
}

// Providers lists the providers that have a configured adapter.
func (r *Registry) Providers() []model.Provider {
	return r.adapters.Providers()
}
