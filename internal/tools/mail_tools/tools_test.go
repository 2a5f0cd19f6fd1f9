package mail_tools

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/provider/providertest"
	"github.com/teemow/mailsync/internal/server"
	"github.com/teemow/mailsync/internal/service"
	"github.com/teemow/mailsync/internal/store"
)

type harness struct {
	mcp    *mcpserver.MCPServer
	google *providertest.Fake
}

func newHarness(t *testing.T, readOnly bool) *harness {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	google := providertest.New(model.ProviderGoogle)
	google.Identity = "alice@gmail.com"
	google.Tokens = model.TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}

	sc := server.NewServerContext(context.Background(), service.New(st, provider.NewSet(google), service.Options{}), "test")
	t.Cleanup(func() { _ = sc.Shutdown() })

	s := mcpserver.NewMCPServer("mailsync-test", "test", mcpserver.WithToolCapabilities(true))
	require.NoError(t, RegisterMailTools(s, sc, readOnly))
	return &harness{mcp: s, google: google}
}

func (h *harness) call(t *testing.T, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	tool, ok := h.mcp.ListTools()[name]
	require.True(t, ok, "tool %s not registered", name)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := tool.Handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func (h *harness) connect(t *testing.T, userID string) string {
	t.Helper()
	text, isErr := h.call(t, "mail_auth_url", map[string]interface{}{"user_id": userID, "provider": "google"})
	require.False(t, isErr, text)

	var authURL string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "https://") {
			authURL = strings.TrimSpace(line)
		}
	}
	u, err := url.Parse(authURL)
	require.NoError(t, err)

	text, isErr = h.call(t, "mail_complete_auth", map[string]interface{}{
		"provider": "google",
		"code":     "abc",
		"state":    u.Query().Get("state"),
	})
	require.False(t, isErr, text)

	var out struct {
		Account model.EmailAccount `json:"account"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out.Account.ID
}

func TestRegisterMailTools_ReadOnly(t *testing.T) {
	h := newHarness(t, true)
	tools := h.mcp.ListTools()

	for _, name := range []string{"mail_auth_url", "mail_complete_auth", "mail_list_accounts", "mail_sync_account", "mail_sync_user", "mail_sync_status", "mail_list_messages"} {
		assert.Contains(t, tools, name)
	}
	assert.NotContains(t, tools, "mail_send_email")
	assert.NotContains(t, tools, "mail_disconnect_account")

	full := newHarness(t, false)
	assert.Contains(t, full.mcp.ListTools(), "mail_send_email")
	assert.Contains(t, full.mcp.ListTools(), "mail_disconnect_account")
}

func TestRegisterMailTools_RequiresService(t *testing.T) {
	s := mcpserver.NewMCPServer("mailsync-test", "test")
	sc := server.NewServerContext(context.Background(), nil, "test")
	assert.ErrorIs(t, RegisterMailTools(s, sc, false), errNoService)
}

func TestMailTools_SyncAndList(t *testing.T) {
	h := newHarness(t, true)
	h.google.Messages = []model.ProviderMessage{
		providertest.TextMessage("m1", "one", "body one"),
		providertest.TextMessage("m2", "two", "body two"),
	}
	accountID := h.connect(t, "u1")

	text, isErr := h.call(t, "mail_sync_account", map[string]interface{}{"user_id": "u1", "account_id": accountID, "max_messages": float64(10)})
	require.False(t, isErr, text)
	var res model.SyncResult
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.MessagesCreated)

	text, isErr = h.call(t, "mail_sync_user", map[string]interface{}{"user_id": "u1"})
	require.False(t, isErr, text)
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Equal(t, 2, res.MessagesSkipped)

	text, isErr = h.call(t, "mail_list_messages", map[string]interface{}{"user_id": "u1", "limit": float64(1)})
	require.False(t, isErr, text)
	var page struct {
		Messages []model.CanonicalEmailMessage `json:"messages"`
		Total    int                           `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &page))
	assert.Equal(t, 1, page.Total)

	text, isErr = h.call(t, "mail_sync_status", map[string]interface{}{"user_id": "u1"})
	require.False(t, isErr, text)
	var status store.SyncStatus
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	assert.Equal(t, 2, status.TotalMessages)

	text, isErr = h.call(t, "mail_list_accounts", map[string]interface{}{"user_id": "u1"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "alice@gmail.com")
	assert.NotContains(t, text, "\"at\"")
}

func TestMailTools_ArgumentErrors(t *testing.T) {
	h := newHarness(t, false)

	tests := []struct {
		tool string
		args map[string]interface{}
		want string
	}{
		{"mail_auth_url", map[string]interface{}{"provider": "google"}, "'user_id' is required"},
		{"mail_auth_url", map[string]interface{}{"user_id": "u1", "provider": "aol"}, "Failed to create authorization URL"},
		{"mail_sync_account", map[string]interface{}{"user_id": "u1"}, "'account_id' is required"},
		{"mail_sync_account", map[string]interface{}{"user_id": "u1", "account_id": "missing"}, "mail_list_accounts"},
		{"mail_sync_user", map[string]interface{}{"user_id": "u1", "max_messages": "many"}, "'max_messages' must be a number"},
		{"mail_send_email", map[string]interface{}{"user_id": "u1", "account_id": "a1", "subject": "hi"}, "to is required"},
		{"mail_complete_auth", map[string]interface{}{"provider": "google", "code": "c", "state": "forged"}, "Failed to connect account"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			text, isErr := h.call(t, tt.tool, tt.args)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestMailTools_SendAndDisconnect(t *testing.T) {
	h := newHarness(t, false)
	accountID := h.connect(t, "u1")

	text, isErr := h.call(t, "mail_send_email", map[string]interface{}{
		"user_id":    "u1",
		"account_id": accountID,
		"to":         []interface{}{"bob@example.com", "carol@example.com"},
		"subject":    "hi",
		"body":       "hello",
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, "sent-1")
	require.Len(t, h.google.Sent(), 1)

	text, isErr = h.call(t, "mail_disconnect_account", map[string]interface{}{"user_id": "u1", "account_ids": accountID + ",unknown"})
	require.False(t, isErr, text)
	var out struct {
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, 1, out.Successful)
	assert.Equal(t, 1, out.Failed)

	text, isErr = h.call(t, "mail_send_email", map[string]interface{}{"user_id": "u1", "account_id": accountID, "to": "bob@example.com", "subject": "again"})
	assert.True(t, isErr)
	assert.Contains(t, text, "mail_auth_url")
}
