// Package oauthstate issues and validates single-use OAuth state values that
// bind an authorization callback to the user and provider that started it.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/model"
)

const stateBytes = 32

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the state lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records validation results.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager mints and consumes OAuth states.
type Manager struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ttl:    model.DefaultStateTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue mints a new state for userID and provider.
func (m *Manager) Issue(ctx context.Context, userID string, provider model.Provider) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	now := m.now().UTC()
	st := &model.OAuthState{
		State:     base64.RawURLEncoding.EncodeToString(buf),
		Provider:  provider,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, st); err != nil {
		return "", err
	}

	m.logger.Debug("issued oauth state",
		logging.Provider(provider.String()),
		"expires_at", st.ExpiresAt,
	)
	return st.State, nil
}

// ValidateAndConsume checks a callback's state and consumes it.
// Expiry is checked first, so an expired state reports ErrExpiredState even
// if it was also consumed.
func (m *Manager) ValidateAndConsume(ctx context.Context, state string, provider model.Provider) (string, error) {
	userID, err := m.validateAndConsume(ctx, state, provider)
	m.metrics.RecordOAuthState(ctx, provider.String(), stateResult(err))
	if err != nil {
		m.logger.Info("oauth state rejected", logging.Provider(provider.String()), logging.Err(err))
	}
	return userID, err
}

func (m *Manager) validateAndConsume(ctx context.Context, state string, provider model.Provider) (string, error) {
	if state == "" {
		return "", model.ErrInvalidState
	}

	st, err := m.store.Get(ctx, state)
	if err != nil {
		return "", err
	}
	if st.Provider != provider {
		return "", model.ErrInvalidState
	}

	now := m.now().UTC()
	if st.Expired(now) {
		return "", model.ErrExpiredState
	}
	if st.Consumed() {
		return "", model.ErrAlreadyConsumed
	}

	won, err := m.store.Consume(ctx, state, now)
	if err != nil {
		return "", err
	}
	if !won {
		return "", model.ErrAlreadyConsumed
	}
	return st.UserID, nil
}

// Purge deletes states that expired before now.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	return m.store.Purge(ctx, m.now().UTC())
}

func stateResult(err error) string {
	switch {
	case err == nil:
		return instrumentation.StateResultValid
	case errors.Is(err, model.ErrExpiredState):
		return instrumentation.StateResultExpired
	case errors.Is(err, model.ErrAlreadyConsumed):
		return instrumentation.StateResultConsumed
	default:
		return instrumentation.StateResultInvalid
	}
}
