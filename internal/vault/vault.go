// Package vault hands out usable access tokens for email accounts, refreshing
// and persisting them when they are about to expire. Refreshes of one account
// are collapsed into a single provider call; different accounts never wait
// on each other.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
)

// DefaultSkew is how long before expiry a token is treated as expired.
const DefaultSkew = 5 * time.Minute

// Accounts is the slice of the account registry the vault needs.
type Accounts interface {
	Get(ctx context.Context, accountID string) (*model.EmailAccount, error)
	UpdateTokens(ctx context.Context, accountID string, tokens model.TokenPair) error
	Deactivate(ctx context.Context, accountID string) error
	AdapterFor(acc *model.EmailAccount) (provider.Adapter, error)
}

// Option configures a Vault.
type Option func(*Vault)

// WithSkew overrides DefaultSkew.
func WithSkew(skew time.Duration) Option {
	return func(v *Vault) { v.skew = skew }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) { v.logger = logger }
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(v *Vault) { v.metrics = m }
}

// Vault manages the token lifecycle of accounts.
type Vault struct {
	accounts Accounts
	group    singleflight.Group
	skew     time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// New creates a Vault.
func New(accounts Accounts, opts ...Option) *Vault {
	v := &Vault{
		accounts: accounts,
		skew:     DefaultSkew,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "vault")
	return v
}

// GetValidCredentials returns a token pair that is usable right now.
//
// A token whose expiry is known and more than the skew away is returned as
// is. A token without a known expiry is probed against the provider's
// identity endpoint. Otherwise the token is refreshed and persisted. When the
// account has no refresh token, or the provider rejects it, the account is
// deactivated and model.ErrReAuthRequired is returned.
func (v *Vault) GetValidCredentials(ctx context.Context, acc *model.EmailAccount) (model.TokenPair, error) {
	tokens := acc.Tokens()
	now := v.now()

	if tokens.AccessToken != "" {
		if tokens.HasExpiry() && tokens.Valid(now, v.skew) {
			return tokens, nil
		}
		if !tokens.HasExpiry() {
			ok, err := v.probe(ctx, acc, tokens.AccessToken)
			if err != nil {
				return model.TokenPair{}, err
			}
			if ok {
				return tokens, nil
			}
		}
	}
	return v.refresh(ctx, acc, tokens.AccessToken)
}

// ForceRefresh refreshes the account's token after the provider rejected
// the access token passed as rejected. If another caller already rotated it
// to a different token, the rotated pair is returned instead.
func (v *Vault) ForceRefresh(ctx context.Context, acc *model.EmailAccount, rejected string) (model.TokenPair, error) {
	if rejected == "" {
		rejected = acc.AccessToken
	}
	return v.refresh(ctx, acc, rejected)
}

// probe reports whether accessToken is still accepted by the provider.
func (v *Vault) probe(ctx context.Context, acc *model.EmailAccount, accessToken string) (bool, error) {
	adapter, err := v.accounts.AdapterFor(acc)
	if err != nil {
		return false, err
	}
	if _, err := adapter.FetchUserIdentity(ctx, accessToken); err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			return false, nil
		}
		return false, fmt.Errorf("probing access token: %w", err)
	}
	return true, nil
}

type flightResult struct {
	tokens model.TokenPair
}

func (v *Vault) refresh(ctx context.Context, acc *model.EmailAccount, staleAccess string) (model.TokenPair, error) {
	// The flight outlives a single caller's cancellation; the other waiters
	// still need its result.
	flightCtx := context.WithoutCancel(ctx)
	ch := v.group.DoChan(acc.ID, func() (interface{}, error) {
		tokens, err := v.doRefresh(flightCtx, acc.ID, staleAccess)
		return flightResult{tokens: tokens}, err
	})

	select {
	case <-ctx.Done():
		return model.TokenPair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.TokenPair{}, res.Err
		}
		return res.Val.(flightResult).tokens, nil
	}
}

// doRefresh runs inside the flight. The account is reloaded so a caller
// holding a stale copy never redeems a refresh token that was already rotated.
func (v *Vault) doRefresh(ctx context.Context, accountID, staleAccess string) (model.TokenPair, error) {
	acc, err := v.accounts.Get(ctx, accountID)
	if err != nil {
		return model.TokenPair{}, err
	}
	logger := logging.WithProvider(logging.WithAccount(v.logger, acc.ID), string(acc.Provider))

	if !acc.Active {
		return model.TokenPair{}, fmt.Errorf("account %s: %w", acc.ID, model.ErrReAuthRequired)
	}

	current := acc.Tokens()
	if current.AccessToken != staleAccess && current.Valid(v.now(), v.skew) {
		logger.Debug("token already rotated by a concurrent refresh")
		return current, nil
	}

	if current.RefreshToken == "" {
		v.metrics.RecordTokenRefresh(ctx, string(acc.Provider), instrumentation.RefreshResultReAuth)
		return model.TokenPair{}, v.requireReAuth(ctx, logger, acc.ID, model.ErrReAuthRequired)
	}

	adapter, err := v.accounts.AdapterFor(acc)
	if err != nil {
		return model.TokenPair{}, err
	}

	fresh, err := adapter.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if errors.Is(err, model.ErrReAuthRequired) {
			v.metrics.RecordTokenRefresh(ctx, string(acc.Provider), instrumentation.RefreshResultReAuth)
			return model.TokenPair{}, v.requireReAuth(ctx, logger, acc.ID, err)
		}
		v.metrics.RecordTokenRefresh(ctx, string(acc.Provider), instrumentation.RefreshResultFailure)
		logger.Warn("token refresh failed", logging.Err(err))
		if errors.Is(err, model.ErrRefreshFailed) {
			return model.TokenPair{}, err
		}
		return model.TokenPair{}, fmt.Errorf("%w: %w", model.ErrRefreshFailed, err)
	}
	if fresh.AccessToken == "" {
		v.metrics.RecordTokenRefresh(ctx, string(acc.Provider), instrumentation.RefreshResultFailure)
		return model.TokenPair{}, fmt.Errorf("%w: provider returned no access token", model.ErrRefreshFailed)
	}

	fresh = fresh.WithFallbackRefresh(current.RefreshToken)
	if err := v.accounts.UpdateTokens(ctx, acc.ID, fresh); err != nil {
		return model.TokenPair{}, fmt.Errorf("persisting refreshed tokens: %w", err)
	}
	v.metrics.RecordTokenRefresh(ctx, string(acc.Provider), instrumentation.RefreshResultSuccess)
	logger.Info("access token refreshed",
		slog.String("access_token", logging.SanitizeToken(fresh.AccessToken)),
		slog.Bool("rotated", fresh.RefreshToken != current.RefreshToken),
		slog.Time("expiry", fresh.Expiry))
	return fresh, nil
}

func (v *Vault) requireReAuth(ctx context.Context, logger *slog.Logger, accountID string, cause error) error {
	if err := v.accounts.Deactivate(ctx, accountID); err != nil {
		logger.Error("failed to deactivate account", logging.Err(err))
	}
	logger.Warn("account requires re-authorization", logging.Err(cause))
	if errors.Is(cause, model.ErrReAuthRequired) {
		return fmt.Errorf("account %s: %w", accountID, cause)
	}
	return fmt.Errorf("account %s: %w: %w", accountID, model.ErrReAuthRequired, cause)
}
