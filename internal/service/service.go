// Package service wires the OAuth state manager, token vault, account registry
// and reconciler into the operations exposed by the HTTP routes, the MCP
// tools and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/oauthstate"
	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/reconcile"
	"github.com/teemow/mailsync/internal/registry"
	"github.com/teemow/mailsync/internal/store"
	"github.com/teemow/mailsync/internal/vault"
)

// Options tunes the components built by New. Zero values mean defaults.
type Options struct {
	StateTTL    time.Duration
	Skew        time.Duration
	Concurrency int
	MaxMessages int
	Now         func() time.Time
	Logger      *slog.Logger
	Metrics     *instrumentation.Metrics

	// StateStore holds issued OAuth states. Nil stores them in the database.
	StateStore oauthstate.Store
}

// Service is the application facade.
type Service struct {
	store      *store.Store
	states     *oauthstate.Manager
	registry   *registry.Registry
	vault      *vault.Vault
	reconciler *reconcile.Reconciler
	now        func() time.Time
	logger     *slog.Logger
}

// New builds the full component graph over st and adapters.
func New(st *store.Store, adapters *provider.Set, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	reg := registry.New(st, adapters, logger)

	states := opts.StateStore
	if states == nil {
		states = oauthstate.NewSQLStore(st)
	}

	vaultOpts := []vault.Option{vault.WithClock(now), vault.WithLogger(logger), vault.WithMetrics(opts.Metrics)}
	if opts.Skew > 0 {
		vaultOpts = append(vaultOpts, vault.WithSkew(opts.Skew))
	}
	v := vault.New(reg, vaultOpts...)

	return &Service{
		store: st,
		states: oauthstate.NewManager(states,
			oauthstate.WithTTL(opts.StateTTL),
			oauthstate.WithClock(now),
			oauthstate.WithLogger(logger),
			oauthstate.WithMetrics(opts.Metrics)),
		registry: reg,
		vault:    v,
		reconciler: reconcile.New(reg, v, st,
			reconcile.WithConcurrency(opts.Concurrency),
			reconcile.WithDefaultMax(opts.MaxMessages),
			reconcile.WithClock(now),
			reconcile.WithLogger(logger),
			reconcile.WithMetrics(opts.Metrics)),
		now:    now,
		logger: logger.With("component", "service"),
	}
}

// Registry exposes the account registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// IssueAuthURL starts a connect flow for userID and returns the consent URL.
func (s *Service) IssueAuthURL(ctx context.Context, userID, providerName string) (string, error) {
	adapter, err := s.adapter(providerName)
	if err != nil {
		return "", err
	}
	state, err := s.states.Issue(ctx, userID, adapter.Name())
	if err != nil {
		return "", err
	}
	return adapter.AuthorizationURL(state), nil
}

// CompleteOAuth finishes a connect flow: the state is consumed, the code is
// exchanged, the mailbox address is resolved and the account is stored.
func (s *Service) CompleteOAuth(ctx context.Context, code, state, providerName string) (*model.EmailAccount, error) {
	adapter, err := s.adapter(providerName)
	if err != nil {
		return nil, err
	}
	userID, err := s.states.ValidateAndConsume(ctx, state, adapter.Name())
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", model.ErrTokenExchangeFailed)
	}

	tokens, err := adapter.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	email, err := adapter.FetchUserIdentity(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("resolving mailbox address: %w", err)
	}

	acc := model.EmailAccount{
		UserID:       userID,
		Email:        strings.ToLower(email),
		Provider:     adapter.Name(),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if tokens.HasExpiry() {
		expiry := tokens.Expiry.UTC()
		acc.TokenExpiry = &expiry
	}
	saved, err := s.registry.Upsert(ctx, acc)
	if err != nil {
		return nil, err
	}
	s.logger.Info("email account connected",
		logging.Provider(saved.Provider.String()),
		logging.AccountID(saved.ID),
		logging.UserHash(saved.Email))
	return saved, nil
}

// SyncAccount syncs one account owned by userID. Only a missing or inactive
// account is an error; sync failures are reported in the result.
func (s *Service) SyncAccount(ctx context.Context, accountID, userID string, maxMessages int, folder string) (model.SyncResult, error) {
	acc, err := s.registry.FindByID(ctx, accountID, userID)
	if err != nil {
		return model.SyncResult{}, err
	}
	if !acc.Active {
		return model.SyncResult{}, fmt.Errorf("account %s is inactive: %w", accountID, model.ErrAccountNotFound)
	}
	return s.reconciler.SyncAccount(ctx, acc, maxMessages, folder), nil
}

// SyncUser syncs every active account of userID.
func (s *Service) SyncUser(ctx context.Context, userID string, maxMessages int, folder string) model.SyncResult {
	return s.reconciler.SyncUser(ctx, userID, maxMessages, folder)
}

// SyncAll syncs every user that has an active account, one user at a time.
func (s *Service) SyncAll(ctx context.Context, maxMessages int, folder string) (model.SyncResult, error) {
	var total model.SyncResult
	users, err := s.registry.UserIDs(ctx)
	if err != nil {
		return total, err
	}
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		total.Merge(s.reconciler.SyncUser(ctx, userID, maxMessages, folder))
	}
	if err := ctx.Err(); err != nil {
		total.AddError("sync cancelled: %v", err)
	}
	return total.Finalize(s.now()), nil
}

// ListAccounts returns all accounts of userID, including inactive ones.
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]model.EmailAccount, error) {
	return s.registry.ListByUser(ctx, userID)
}

// DisconnectAccount deactivates an account. Stored messages are kept.
func (s *Service) DisconnectAccount(ctx context.Context, accountID, userID string) error {
	acc, err := s.registry.FindByID(ctx, accountID, userID)
	if err != nil {
		return err
	}
	return s.registry.Deactivate(ctx, acc.ID)
}

// SendRequest is an outgoing message.
type SendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	IsHTML  bool     `json:"is_html"`
}

// SendEmail sends a message from one of userID's accounts and returns the
// provider's message id.
func (s *Service) SendEmail(ctx context.Context, accountID, userID string, req SendRequest) (string, error) {
	if len(req.To) == 0 {
		return "", errors.New("at least one recipient is required")
	}
	acc, err := s.registry.FindByID(ctx, accountID, userID)
	if err != nil {
		return "", err
	}
	if !acc.Active {
		return "", fmt.Errorf("account %s: %w", acc.ID, model.ErrReAuthRequired)
	}
	adapter, err := s.registry.AdapterFor(acc)
	if err != nil {
		return "", err
	}

	tokens, err := s.vault.GetValidCredentials(ctx, acc)
	if err != nil {
		return "", err
	}
	id, err := adapter.Send(ctx, tokens.AccessToken, req.To, req.Subject, req.Body, req.IsHTML)
	if errors.Is(err, model.ErrUnauthorized) {
		tokens, err = s.vault.ForceRefresh(ctx, acc, tokens.AccessToken)
		if err != nil {
			return "", err
		}
		id, err = adapter.Send(ctx, tokens.AccessToken, req.To, req.Subject, req.Body, req.IsHTML)
	}
	if err != nil {
		return "", err
	}
	s.logger.Info("email sent", logging.AccountID(acc.ID), logging.Provider(acc.Provider.String()), "recipients", len(req.To))
	return id, nil
}

// ListMessages returns stored messages of a user, newest first.
func (s *Service) ListMessages(ctx context.Context, q store.MessageQuery) ([]model.CanonicalEmailMessage, error) {
	if q.UserID == "" {
		return nil, errors.New("user id is required")
	}
	return s.store.ListMessages(ctx, q)
}

// SyncStatus summarises the stored mail of a user.
func (s *Service) SyncStatus(ctx context.Context, userID string) (*store.SyncStatus, error) {
	return s.store.SyncStatus(ctx, userID)
}

// PurgeStates deletes expired OAuth states.
func (s *Service) PurgeStates(ctx context.Context) (int, error) {
	return s.states.Purge(ctx)
}

// Providers lists the configured providers.
func (s *Service) Providers() []model.Provider {
	return s.registry.Providers()
}

func (s *Service) adapter(providerName string) (provider.Adapter, error) {
	p, err := model.ParseProvider(providerName)
	if err != nil {
		return nil, err
	}
	return s.registry.Adapter(p)
}
