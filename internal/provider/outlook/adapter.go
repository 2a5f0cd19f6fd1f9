// Package outlook implements the mailbox adapter for Microsoft 365 and
// Outlook.com accounts using Microsoft Graph.
package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/microsoft"

	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/mailbody"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
)

// GraphBaseURL is the Microsoft Graph v1.0 root.
const GraphBaseURL = "https://graph.microsoft.com/v1.0"

// DefaultScopes grants identity, read and send access plus a refresh token.
var DefaultScopes = []string{
	"offline_access",
	"https://graph.microsoft.com/User.Read",
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Mail.Send",
}

const (
	maxPageSize   = 100
	messageFields = "id,subject,from,toRecipients,body,bodyPreview,receivedDateTime,isRead,parentFolderId,conversationId,internetMessageId"
)

// wellKnownFolders maps canonical folder names to Graph well-known folder names.
var wellKnownFolders = map[string]string{
	"inbox":   "inbox",
	"drafts":  "drafts",
	"sent":    "sentitems",
	"deleted": "deleteditems",
	"trash":   "deleteditems",
	"junk":    "junkemail",
	"spam":    "junkemail",
	"outbox":  "outbox",
	"archive": "archive",
}

// canonicalFolders maps Graph well-known folder names back to canonical names.
var canonicalFolders = map[string]string{
	"inbox":        "inbox",
	"drafts":       "drafts",
	"sentitems":    "sent",
	"deleteditems": "deleted",
	"junkemail":    "junk",
	"outbox":       "outbox",
	"archive":      "archive",
}

// Adapter talks to Microsoft Graph on behalf of one app registration.
type Adapter struct {
	oauth   *provider.OAuth
	caller  *provider.Caller
	http    *http.Client
	apiBase string
	logger  *slog.Logger
	now     func() time.Time
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates an Outlook adapter for the multi-tenant "common" authority.
func New(cfg provider.Config, caller *provider.Caller, logger *slog.Logger) *Adapter {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = GraphBaseURL
	}
	return &Adapter{
		oauth:   provider.NewOAuth(model.ProviderOutlook, cfg, microsoft.AzureADEndpoint("common"), caller),
		caller:  caller,
		http:    cfg.Client(),
		apiBase: base,
		logger:  logger.With("provider", string(model.ProviderOutlook)),
		now:     time.Now,
	}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() model.Provider { return model.ProviderOutlook }

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

// FetchUserIdentity returns the mailbox address of the signed-in user.
func (a *Adapter) FetchUserIdentity(ctx context.Context, accessToken string) (string, error) {
	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	err := a.caller.Do(ctx, model.ProviderOutlook, "me", func(ctx context.Context) error {
		req, err := http.NewRequest(http.MethodGet, a.apiBase+"/me?$select=mail,userPrincipalName", nil)
		if err != nil {
			return err
		}
		return provider.DoJSON(ctx, a.http, model.ProviderOutlook, "me", req, accessToken, &me)
	})
	if err != nil {
		return "", err
	}
	if me.Mail != "" {
		return me.Mail, nil
	}
	if me.UserPrincipalName != "" {
		return me.UserPrincipalName, nil
	}
	return "", errors.New("graph /me: response carries no mail address")
}

type graphAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (g graphAddress) String() string {
	if g.EmailAddress.Name != "" && g.EmailAddress.Name != g.EmailAddress.Address {
		return fmt.Sprintf("%s <%s>", g.EmailAddress.Name, g.EmailAddress.Address)
	}
	return g.EmailAddress.Address
}

type graphMessage struct {
	ID                string         `json:"id"`
	Subject           string         `json:"subject"`
	From              *graphAddress  `json:"from"`
	ToRecipients      []graphAddress `json:"toRecipients"`
	BodyPreview       string         `json:"bodyPreview"`
	ReceivedDateTime  string         `json:"receivedDateTime"`
	IsRead            bool           `json:"isRead"`
	ConversationID    string         `json:"conversationId"`
	InternetMessageID string         `json:"internetMessageId"`
	Body              *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

type messagePage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// ListMessages implements provider.Adapter. folder is a canonical folder
// name, a Graph well-known folder name or a folder id.
func (a *Adapter) ListMessages(ctx context.Context, accessToken, folder string, max int) ([]model.ProviderMessage, error) {
	if max <= 0 {
		max = 100
	}
	graphFolder, canonical := resolveFolder(folder)

	q := url.Values{}
	q.Set("$top", strconv.Itoa(min(max, maxPageSize)))
	q.Set("$select", messageFields)
	q.Set("$orderby", "receivedDateTime desc")
	next := fmt.Sprintf("%s/me/mailFolders/%s/messages?%s", a.apiBase, url.PathEscape(graphFolder), q.Encode())

	logger := logging.WithOperation(a.logger, "list_messages")
	out := make([]model.ProviderMessage, 0, min(max, maxPageSize))
	for next != "" && len(out) < max {
		pageURL := next
		page, err := provider.Call(ctx, a.caller, model.ProviderOutlook, "list_messages", func(ctx context.Context) (*messagePage, error) {
			req, err := http.NewRequest(http.MethodGet, pageURL, nil)
			if err != nil {
				return nil, err
			}
			var p messagePage
			if err := provider.DoJSON(ctx, a.http, model.ProviderOutlook, "list_messages", req, accessToken, &p); err != nil {
				return nil, err
			}
			return &p, nil
		})
		if err != nil {
			return nil, err
		}

		for _, raw := range page.Value {
			if len(out) == max {
				break
			}
			pm, err := convertMessage(raw, canonical, a.now())
			if err != nil {
				logger.Warn("dropping malformed message", logging.Err(err))
				continue
			}
			out = append(out, pm)
		}
		next = page.NextLink
	}
	return out, nil
}

func resolveFolder(folder string) (graphFolder, canonical string) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		folder = provider.DefaultFolder
	}
	key := strings.ToLower(folder)
	if wk, ok := wellKnownFolders[key]; ok {
		return wk, canonicalFolders[wk]
	}
	if c, ok := canonicalFolders[key]; ok {
		return key, c
	}
	return folder, folder
}

func convertMessage(raw json.RawMessage, folder string, now time.Time) (model.ProviderMessage, error) {
	var gm graphMessage
	if err := json.Unmarshal(raw, &gm); err != nil {
		return model.ProviderMessage{}, fmt.Errorf("%w: %v", model.ErrMessageMapping, err)
	}
	if gm.ID == "" {
		return model.ProviderMessage{}, fmt.Errorf("%w: message has no id", model.ErrMessageMapping)
	}

	pm := model.ProviderMessage{
		ID:          gm.ID,
		ThreadID:    gm.ConversationID,
		SecondaryID: gm.ConversationID,
		Subject:     gm.Subject,
		Snippet:     gm.BodyPreview,
		Folder:      folder,
		Read:        gm.IsRead,
		ReceivedAt:  now.UTC(),
		Raw:         raw,
	}
	if gm.From != nil {
		pm.From = gm.From.String()
	}
	to := make([]string, 0, len(gm.ToRecipients))
	for _, r := range gm.ToRecipients {
		to = append(to, r.String())
	}
	pm.To = strings.Join(to, ", ")

	if t, err := time.Parse(time.RFC3339, gm.ReceivedDateTime); err == nil {
		pm.ReceivedAt = t.UTC()
	}

	if gm.Body != nil && gm.Body.Content != "" {
		mimeType := "text/plain"
		if strings.EqualFold(gm.Body.ContentType, "html") {
			mimeType = "text/html"
		}
		pm.Parts = []model.BodyPart{{MIMEType: mimeType, Charset: "utf-8", Data: []byte(gm.Body.Content)}}
	}
	return pm, nil
}

// Send implements provider.Adapter via /me/sendMail, which returns no
// message id; the literal "sent" is returned instead.
func (a *Adapter) Send(ctx context.Context, accessToken string, to []string, subject, body string, isHTML bool) (string, error) {
	if len(to) == 0 {
		return "", errors.New("at least one recipient is required")
	}

	contentType := "Text"
	if isHTML {
		contentType = "HTML"
	}
	type address struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	}
	recipients := make([]address, len(to))
	for i, addr := range to {
		recipients[i].EmailAddress.Address = addr
	}
	payload := map[string]any{
		"message": map[string]any{
			"subject": subject,
			"body": map[string]string{
				"contentType": contentType,
				"content":     body,
			},
			"toRecipients": recipients,
		},
		"saveToSentItems": true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	err = a.caller.Do(ctx, model.ProviderOutlook, "send", func(ctx context.Context) error {
		req, err := http.NewRequest(http.MethodPost, a.apiBase+"/me/sendMail", bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return provider.DoJSON(ctx, a.http, model.ProviderOutlook, "send", req, accessToken, nil)
	})
	if err != nil {
		return "", err
	}
	return "sent", nil
}
