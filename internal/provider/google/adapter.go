// Package google implements the mailbox adapter for Gmail accounts using the
// Gmail REST API.
package google

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/teemow/mailsync/internal/mailbody"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
)

// DefaultScopes grants identity, read and send access.
var DefaultScopes = []string{
	"openid",
	oauth2api.UserinfoEmailScope,
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
}

// Adapter talks to Gmail on behalf of one OAuth client registration.
type Adapter struct {
	oauth   *provider.OAuth
	caller  *provider.Caller
	http    *http.Client
	apiBase string
	logger  *slog.Logger
	now     func() time.Time
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates a Gmail adapter.
func New(cfg provider.Config, caller *provider.Caller, logger *slog.Logger) *Adapter {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		oauth: provider.NewOAuth(model.ProviderGoogle, cfg, googleoauth.Endpoint, caller,
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		),
		caller:  caller,
		http:    cfg.Client(),
		apiBase: cfg.APIBaseURL,
		logger:  logger.With("provider", string(model.ProviderGoogle)),
		now:     time.Now,
	}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() model.Provider { return model.ProviderGoogle }

// AuthorizationURL implements provider.Adapter.
func (a *Adapter) AuthorizationURL(state string) string {
	return a.oauth.AuthorizationURL(state)
}

// ExchangeCode implements provider.Adapter.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (model.TokenPair, error) {
	return a.oauth.Exchange(ctx, code)
}

// Refresh implements provider.Adapter.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	return a.oauth.Refresh(ctx, refreshToken)
}

// FetchMessageBody implements provider.Adapter.
func (a *Adapter) FetchMessageBody(msg model.ProviderMessage) (string, error) {
	return mailbody.Extract(msg)
}

// FetchUserIdentity returns the email address from the userinfo endpoint.
func (a *Adapter) FetchUserIdentity(ctx context.Context, accessToken string) (string, error) {
	return provider.Call(ctx, a.caller, model.ProviderGoogle, "userinfo", func(ctx context.Context) (string, error) {
		svc, err := oauth2api.NewService(ctx, a.clientOptions(ctx, accessToken)...)
		if err != nil {
			return "", err
		}
		info, err := svc.Userinfo.Get().Context(ctx).Do()
		if err != nil {
			return "", a.apiError(ctx, "userinfo", err)
		}
		if info.Email == "" {
			return "", errors.New("google userinfo: response carries no email")
		}
		return info.Email, nil
	})
}

func (a *Adapter) gmailService(ctx context.Context, accessToken string) (*gmail.Service, error) {
	return gmail.NewService(ctx, a.clientOptions(ctx, accessToken)...)
}

// clientOptions authenticates API clients with a fixed access token; the
// vault owns refreshing.
func (a *Adapter) clientOptions(ctx context.Context, accessToken string) []option.ClientOption {
	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, a.http),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	)
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.apiBase != "" {
		opts = append(opts, option.WithEndpoint(a.apiBase))
	}
	return opts
}

// apiError maps a Google API client error onto the provider error taxonomy.
func (a *Adapter) apiError(ctx context.Context, op string, err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return model.NewProviderError(model.ProviderGoogle, op, ge.Code, ge.Message, err)
	}
	return provider.TransportError(ctx, model.ProviderGoogle, op, err)
}
