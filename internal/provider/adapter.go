// Package provider defines the contract every mailbox provider implements and
// the shared machinery used to talk to provider APIs: OAuth token flows, a
// traced HTTP client, and a Caller that applies timeouts, rate limits,
// retries and a circuit breaker to each network call.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/teemow/mailsync/internal/model"
)

// DefaultFolder is the canonical folder synced when none is requested.
// Adapters translate it to their native inbox name.
const DefaultFolder = "inbox"

// Adapter is implemented once per supported provider.
type Adapter interface {
	Name() model.Provider

	// AuthorizationURL returns the consent URL carrying state.
	AuthorizationURL(state string) string

	// ExchangeCode trades an authorization code for tokens.
	// Failures wrap model.ErrTokenExchangeFailed.
	ExchangeCode(ctx context.Context, code string) (model.TokenPair, error)

	// FetchUserIdentity returns the mailbox address the token belongs to.
	FetchUserIdentity(ctx context.Context, accessToken string) (string, error)

	// ListMessages returns up to max messages of folder, newest first.
	// Messages that cannot be decoded are dropped and logged.
	ListMessages(ctx context.Context, accessToken, folder string, max int) ([]model.ProviderMessage, error)

	// FetchMessageBody returns the plain-text body of msg without I/O.
	FetchMessageBody(msg model.ProviderMessage) (string, error)

	// Send delivers a message and returns the provider's message id.
	Send(ctx context.Context, accessToken string, to []string, subject, body string, isHTML bool) (string, error)

	// Refresh obtains a new access token. The returned refresh token may be
	// empty when the provider does not rotate it.
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
}

// Config holds the OAuth client registration and endpoint overrides for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// AuthURL and TokenURL override the provider's OAuth endpoints.
	AuthURL  string
	TokenURL string
	// APIBaseURL overrides the provider's REST API root.
	APIBaseURL string

	// HTTPClient is used for all outbound calls. Defaults to NewHTTPClient().
	HTTPClient *http.Client
}

// Configured reports whether a client id is present.
func (c Config) Configured() bool {
	return c.ClientID != ""
}

// Client returns the configured HTTP client or a traced default.
func (c Config) Client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return NewHTTPClient()
}

// Set is the closed set of adapters the service dispatches to.
type Set struct {
	adapters map[model.Provider]Adapter
}

// NewSet builds a Set. A later adapter for the same provider replaces an earlier one.
func NewSet(adapters ...Adapter) *Set {
	s := &Set{adapters: make(map[model.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			s.adapters[a.Name()] = a
		}
	}
	return s
}

// Get returns the adapter for p.
func (s *Set) Get(p model.Provider) (Adapter, error) {
	a, ok := s.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedProvider, p)
	}
	return a, nil
}

// Providers lists the registered providers in a stable order.
func (s *Set) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(s.adapters))
	for p := range s.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
