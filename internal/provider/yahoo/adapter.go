// Package yahoo implements the mailbox adapter for Yahoo Mail. Identity comes
// from Yahoo's OpenID userinfo endpoint; messages are read over IMAP with
// OAUTHBEARER authentication.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/mailbody"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
)

// Yahoo endpoints.
const (
	AuthURL         = "https://api.login.yahoo.com/oauth2/request_auth"
	TokenURL        = "https://api.login.yahoo.com/oauth2/get_token"
	APIBaseURL      = "https://api.login.yahoo.com"
	DefaultIMAPAddr = "imap.mail.yahoo.com:993"
)

// DefaultScopes grants identity plus mailbox read and write access.
var DefaultScopes = []string{"openid", "mail-r", "mail-w"}

// imapFolders maps canonical folder names to Yahoo IMAP mailbox names.
var imapFolders = map[string]string{
	"inbox":   "INBOX",
	"sent":    "Sent",
	"drafts":  "Draft",
	"trash":   "Trash",
	"deleted": "Trash",
	"spam":    "Bulk",
	"junk":    "Bulk",
	"archive": "Archive",
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithIMAPAddr overrides the IMAP server address (host:port, implicit TLS).
func WithIMAPAddr(addr string) Option {
	return func(a *Adapter) { a.reader = &imapReader{addr: addr} }
}

// Adapter reads Yahoo mailboxes.
type Adapter struct {
	oauth   *provider.OAuth
	caller  *provider.Caller
	http    *http.Client
	apiBase string
	reader  mailboxReader
	logger  *slog.Logger
	now     func() time.Time
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates a Yahoo adapter.
func New(cfg provider.Config, caller *provider.Caller, logger *slog.Logger, opts ...Option) *Adapter {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = APIBaseURL
	}
	a := &Adapter{
		oauth: provider.NewOAuth(model.ProviderYahoo, cfg, oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}, caller),
		caller:  caller,
		http:    cfg.Client(),
		apiBase: base,
		reader:  &imapReader{addr: DefaultIMAPAddr},
		logger:  logger.With("provider", string(model.ProviderYahoo)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements provider.Adapter.
func (a *Adapter) Name() model.Provider { return model.ProviderYahoo }

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

// Send is not offered for Yahoo accounts.
func (a *Adapter) Send(context.Context, string, []string, string, string, bool) (string, error) {
	return "", fmt.Errorf("yahoo send: %w", model.ErrNotSupported)
}

// FetchUserIdentity returns the email claim of the OpenID userinfo endpoint.
func (a *Adapter) FetchUserIdentity(ctx context.Context, accessToken string) (string, error) {
	var info struct {
		Email string `json:"email"`
	}
	err := a.caller.Do(ctx, model.ProviderYahoo, "userinfo", func(ctx context.Context) error {
		req, err := http.NewRequest(http.MethodGet, a.apiBase+"/openid/v1/userinfo", nil)
		if err != nil {
			return err
		}
		return provider.DoJSON(ctx, a.http, model.ProviderYahoo, "userinfo", req, accessToken, &info)
	})
	if err != nil {
		return "", err
	}
	if info.Email == "" {
		return "", errors.New("yahoo userinfo: response carries no email")
	}
	return info.Email, nil
}

// ListMessages implements provider.Adapter. IMAP authentication needs the
// mailbox address, so the identity is resolved first.
func (a *Adapter) ListMessages(ctx context.Context, accessToken, folder string, max int) ([]model.ProviderMessage, error) {
	if max <= 0 {
		max = 100
	}
	email, err := a.FetchUserIdentity(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	mailbox, canonical := resolveFolder(folder)

	fetched, err := provider.Call(ctx, a.caller, model.ProviderYahoo, "imap_fetch", func(ctx context.Context) ([]fetchedMessage, error) {
		return a.reader.Fetch(ctx, email, accessToken, mailbox, max)
	})
	if err != nil {
		return nil, err
	}

	logger := logging.WithOperation(a.logger, "list_messages")
	out := make([]model.ProviderMessage, 0, len(fetched))
	for _, fm := range fetched {
		pm, err := convertMessage(fm, mailbox, canonical, a.now())
		if err != nil {
			logger.Warn("dropping malformed message", "uid", fm.UID, logging.Err(err))
			continue
		}
		out = append(out, pm)
	}
	return out, nil
}

func resolveFolder(folder string) (mailbox, canonical string) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		folder = provider.DefaultFolder
	}
	key := strings.ToLower(folder)
	if mb, ok := imapFolders[key]; ok {
		return mb, key
	}
	return folder, folder
}
