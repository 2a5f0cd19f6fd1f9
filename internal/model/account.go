package model

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies a supported mailbox provider.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
	ProviderYahoo   Provider = "yahoo"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderGoogle, ProviderOutlook, ProviderYahoo}

// ParseProvider converts a provider tag into a Provider.
// Matching is case-insensitive; unknown tags yield ErrUnsupportedProvider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
}

// String implements fmt.Stringer.
func (p Provider) String() string {
	return string(p)
}

// EmailAccount is a connected mailbox owned by a user.
type EmailAccount struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Email        string     `db:"email" json:"email"`
	Provider     Provider   `db:"provider" json:"provider"`
	AccessToken  string     `db:"access_token" json:"-"`
	RefreshToken string     `db:"refresh_token" json:"-"`
	TokenExpiry  *time.Time `db:"token_expiry" json:"token_expiry,omitempty"`
	Active       bool       `db:"is_active" json:"is_active"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Tokens returns the account's current credentials as a TokenPair.
func (a *EmailAccount) Tokens() TokenPair {
	tp := TokenPair{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
	}
	if a.TokenExpiry != nil {
		tp.Expiry = *a.TokenExpiry
	}
	return tp
}

// TokenPair is an access token with its optional refresh token.
// Both fields are always replaced together.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// Expiry is zero when the provider did not report one.
	Expiry time.Time
}

// HasExpiry reports whether the provider reported an expiry for the access token.
func (t TokenPair) HasExpiry() bool {
	return !t.Expiry.IsZero()
}

// Expired reports whether the access token expires within skew of now.
// A pair without a known expiry is never considered expired here.
func (t TokenPair) Expired(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" {
		return true
	}
	if t.Expiry.IsZero() {
		return false
	}
	return now.Add(skew).After(t.Expiry)
}

// WithFallbackRefresh returns t with refresh token rt when t carries none.
// Providers that do not rotate refresh tokens omit them from refresh responses.
func (t TokenPair) WithFallbackRefresh(rt string) TokenPair {
	if t.RefreshToken == "" {
		t.RefreshToken = rt
	}
	return t
}

// Valid reports whether the access token can be used at now, allowing skew.
func (t TokenPair) Valid(now time.Time, skew time.Duration) bool {
	return !t.Expired(now, skew)
}
