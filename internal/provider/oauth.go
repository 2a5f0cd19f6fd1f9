package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/mailsync/internal/model"
)

// OAuth performs the authorization-code and refresh flows for one provider.
type OAuth struct {
	provider model.Provider
	conf     *oauth2.Config
	client   *http.Client
	caller   *Caller
	authOpts []oauth2.AuthCodeOption
}

// NewOAuth builds the OAuth helper. cfg.AuthURL and cfg.TokenURL override
// the matching fields of endpoint.
func NewOAuth(p model.Provider, cfg Config, endpoint oauth2.Endpoint, caller *Caller, opts ...oauth2.AuthCodeOption) *OAuth {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &OAuth{
		provider: p,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		client:   cfg.Client(),
		caller:   caller,
		authOpts: opts,
	}
}

// AuthorizationURL returns the consent URL for state.
func (o *OAuth) AuthorizationURL(state string) string {
	return o.conf.AuthCodeURL(state, o.authOpts...)
}

// Exchange trades code for tokens. The exchange is attempted once.
func (o *OAuth) Exchange(ctx context.Context, code string) (model.TokenPair, error) {
	var tok *oauth2.Token
	err := o.caller.DoOnce(ctx, o.provider, "exchange_code", func(ctx context.Context) error {
		var err error
		tok, err = o.conf.Exchange(o.withClient(ctx), code)
		return err
	})
	if err != nil {
		return model.TokenPair{}, o.tokenError("exchange_code", err, model.ErrTokenExchangeFailed)
	}
	return tokenPair(tok), nil
}

// Refresh redeems refreshToken for a new access token. A rejected refresh
// token yields an error wrapping model.ErrReAuthRequired; anything else
// wraps model.ErrRefreshFailed.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	if refreshToken == "" {
		return model.TokenPair{}, model.ErrReAuthRequired
	}
	var tok *oauth2.Token
	err := o.caller.Do(ctx, o.provider, "refresh_token", func(ctx context.Context) error {
		src := o.conf.TokenSource(o.withClient(ctx), &oauth2.Token{
			RefreshToken: refreshToken,
			Expiry:       time.Unix(1, 0),
		})
		var err error
		tok, err = src.Token()
		if err != nil {
			return o.refreshError(err)
		}
		return nil
	})
	if err != nil {
		return model.TokenPair{}, err
	}
	pair := tokenPair(tok)
	// The token source copies the old refresh token into the result when the
	// response omits one; report it as absent so callers apply their own fallback.
	if pair.RefreshToken == refreshToken {
		pair.RefreshToken = ""
	}
	return pair, nil
}

func (o *OAuth) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.client)
}

func (o *OAuth) refreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		body := strings.TrimSpace(string(re.Body))
		if re.ErrorCode == "invalid_grant" || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return &model.ProviderError{
				Provider: o.provider,
				Op:       "refresh_token",
				Status:   status,
				Kind:     model.KindInvalidGrant,
				Body:     body,
				Err:      model.ErrReAuthRequired,
			}
		}
		return model.NewProviderError(o.provider, "refresh_token", status, body, model.ErrRefreshFailed)
	}
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &model.ProviderError{
		Provider:  o.provider,
		Op:        "refresh_token",
		Kind:      model.KindUnavailable,
		Retryable: true,
		Err:       errors.Join(model.ErrRefreshFailed, err),
	}
}

func (o *OAuth) tokenError(op string, err error, sentinel error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return model.NewProviderError(o.provider, op, status, strings.TrimSpace(string(re.Body)), sentinel)
	}
	return &model.ProviderError{
		Provider: o.provider,
		Op:       op,
		Kind:     model.KindUnknown,
		Err:      errors.Join(sentinel, err),
	}
}

func tokenPair(tok *oauth2.Token) model.TokenPair {
	if tok == nil {
		return model.TokenPair{}
	}
	pair := model.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		pair.Expiry = tok.Expiry.UTC()
	}
	return pair
}
