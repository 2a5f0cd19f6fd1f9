// Package providertest provides a scriptable provider.Adapter for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/teemow/mailsync/internal/mailbody"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
)

// SentMessage records a Send call.
type SentMessage struct {
	AccessToken string
	To          []string
	Subject     string
	Body        string
	IsHTML      bool
}

// Fake is an in-memory provider.Adapter. Unset hooks fall back to the
// static fields.
type Fake struct {
	Provider model.Provider

	Identity    string
	IdentityErr error
	Tokens      model.TokenPair
	ExchangeErr error
	Messages    []model.ProviderMessage

	RefreshFunc  func(ctx context.Context, refreshToken string) (model.TokenPair, error)
	ListFunc     func(ctx context.Context, accessToken, folder string, max int) ([]model.ProviderMessage, error)
	IdentityFunc func(ctx context.Context, accessToken string) (string, error)
	SendFunc     func(ctx context.Context, accessToken string) error

	RefreshCalls  atomic.Int32
	ListCalls     atomic.Int32
	IdentityCalls atomic.Int32

	mu   sync.Mutex
	sent []SentMessage
}

var _ provider.Adapter = (*Fake)(nil)

// New returns a Fake for p.
func New(p model.Provider) *Fake {
	return &Fake{Provider: p}
}

// Name implements provider.Adapter.
func (f *Fake) Name() model.Provider { return f.Provider }

// AuthorizationURL implements provider.Adapter.
func (f *Fake) AuthorizationURL(state string) string {
	return fmt.Sprintf("https://auth.example.com/%s?state=%s", f.Provider, state)
}

// ExchangeCode implements provider.Adapter.
func (f *Fake) ExchangeCode(_ context.Context, code string) (model.TokenPair, error) {
	if f.ExchangeErr != nil {
		return model.TokenPair{}, fmt.Errorf("%w: %w", model.ErrTokenExchangeFailed, f.ExchangeErr)
	}
	return f.Tokens, nil
}

// FetchUserIdentity implements provider.Adapter.
func (f *Fake) FetchUserIdentity(ctx context.Context, accessToken string) (string, error) {
	f.IdentityCalls.Add(1)
	if f.IdentityFunc != nil {
		return f.IdentityFunc(ctx, accessToken)
	}
	return f.Identity, f.IdentityErr
}

// ListMessages implements provider.Adapter.
func (f *Fake) ListMessages(ctx context.Context, accessToken, folder string, max int) ([]model.ProviderMessage, error) {
	f.ListCalls.Add(1)
	if f.ListFunc != nil {
		return f.ListFunc(ctx, accessToken, folder, max)
	}
	msgs := f.Messages
	if max > 0 && len(msgs) > max {
		msgs = msgs[:max]
	}
	return msgs, nil
}

// FetchMessageBody implements provider.Adapter.
func (f *Fake) FetchMessageBody(msg model.ProviderMessage) (string, error) {
	return mailbody.Extract(msg)
}

// Send implements provider.Adapter.
func (f *Fake) Send(ctx context.Context, accessToken string, to []string, subject, body string, isHTML bool) (string, error) {
	if f.SendFunc != nil {
		if err := f.SendFunc(ctx, accessToken); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentMessage{AccessToken: accessToken, To: to, Subject: subject, Body: body, IsHTML: isHTML})
	return fmt.Sprintf("sent-%d", len(f.sent)), nil
}

// Sent returns the recorded Send calls.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// Refresh implements provider.Adapter.
func (f *Fake) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	f.RefreshCalls.Add(1)
	if f.RefreshFunc != nil {
		return f.RefreshFunc(ctx, refreshToken)
	}
	return model.TokenPair{}, model.ErrRefreshFailed
}

// TextMessage builds a plain-text ProviderMessage.
func TextMessage(id, subject, body string) model.ProviderMessage {
	return model.ProviderMessage{
		ID:       id,
		ThreadID: "thread-" + id,
		From:     "sender@example.com",
		To:       "owner@example.com",
		Subject:  subject,
		Folder:   "inbox",
		Parts:    []model.BodyPart{{MIMEType: "text/plain", Data: []byte(body)}},
	}
}
