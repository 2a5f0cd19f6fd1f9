package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/provider/providertest"
	"github.com/teemow/mailsync/internal/service"
	"github.com/teemow/mailsync/internal/store"
)

type testServer struct {
	handler http.Handler
	server  *HTTPServer
	sc      *ServerContext
	google  *providertest.Fake
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	google := providertest.New(model.ProviderGoogle)
	google.Identity = "alice@gmail.com"
	google.Tokens = model.TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}

	svc := service.New(st, provider.NewSet(google), service.Options{})
	sc := NewServerContext(context.Background(), svc, "test")
	srv, err := NewHTTPServer(HTTPServerConfig{ServerContext: sc})
	require.NoError(t, err)
	return &testServer{handler: srv.Handler(), server: srv, sc: sc, google: google}
}

func (ts *testServer) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func (ts *testServer) connect(t *testing.T, userID string) string {
	t.Helper()
	code, body := ts.do(t, http.MethodGet, "/auth/google/url?user_id="+userID, "")
	require.Equal(t, http.StatusOK, code)
	u, err := url.Parse(body["auth_url"].(string))
	require.NoError(t, err)

	code, body = ts.do(t, http.MethodGet, "/oauth-callback/google?code=abc&state="+url.QueryEscape(u.Query().Get("state")), "")
	require.Equal(t, http.StatusOK, code, body)
	acc := body["account"].(map[string]any)
	assert.NotContains(t, acc, "access_token")
	return acc["id"].(string)
}

func TestRoutes_ConnectFlow(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/auth/google/url", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errCodeBadRequest, body["error"])

	code, body = ts.do(t, http.MethodGet, "/auth/aol/url?user_id=u1", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errCodeUnsupported, body["error"])

	code, body = ts.do(t, http.MethodGet, "/oauth-callback/google?code=abc&state=forged", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errCodeInvalidState, body["error"])

	code, body = ts.do(t, http.MethodGet, "/oauth-callback/google?error=access_denied", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errCodeAccessDenied, body["error"])

	ts.connect(t, "u1")
	code, body = ts.do(t, http.MethodGet, "/users/u1/accounts", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])
}

func TestRoutes_SyncAndQuery(t *testing.T) {
	ts := newTestServer(t)
	ts.google.Messages = []model.ProviderMessage{
		providertest.TextMessage("m1", "one", "body one"),
		providertest.TextMessage("m2", "two", "body two"),
	}
	accountID := ts.connect(t, "u1")

	code, body := ts.do(t, http.MethodPost, "/users/u1/sync", `{"max_messages": 10}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["messages_created"])

	code, body = ts.do(t, http.MethodPost, "/users/u1/accounts/"+accountID+"/sync?folder=inbox", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["messages_skipped"])

	code, body = ts.do(t, http.MethodGet, "/users/u1/messages?limit=1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, _ = ts.do(t, http.MethodGet, "/users/u1/messages?limit=lots", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = ts.do(t, http.MethodGet, "/users/u1/sync/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total_messages"])

	code, body = ts.do(t, http.MethodPost, "/users/u2/accounts/"+accountID+"/sync", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errCodeNotFound, body["error"])
}

func TestRoutes_SyncUserWithoutAccounts(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/users/nobody/sync", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, []any{"no active email accounts found for user"}, body["errors"])
}

func TestRoutes_ReconnectRequired(t *testing.T) {
	ts := newTestServer(t)
	accountID := ts.connect(t, "u1")

	// The provider revokes the grant; the next refresh deactivates the account.
	ts.google.ListFunc = func(context.Context, string, string, int) ([]model.ProviderMessage, error) {
		return nil, model.NewProviderError(model.ProviderGoogle, "list_messages", 401, "", nil)
	}
	ts.google.RefreshFunc = func(context.Context, string) (model.TokenPair, error) {
		return model.TokenPair{}, &model.ProviderError{Provider: model.ProviderGoogle, Op: "refresh_token", Status: 400, Kind: model.KindInvalidGrant, Err: model.ErrReAuthRequired}
	}
	code, body := ts.do(t, http.MethodPost, "/users/u1/accounts/"+accountID+"/sync", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])

	code, body = ts.do(t, http.MethodPost, "/users/u1/accounts/"+accountID+"/send", `{"to":["bob@example.com"],"subject":"hi","body":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, map[string]any{"error": "reconnect_required"}, body)
}

func TestRoutes_SendAndDisconnect(t *testing.T) {
	ts := newTestServer(t)
	accountID := ts.connect(t, "u1")

	code, _ := ts.do(t, http.MethodPost, "/users/u1/accounts/"+accountID+"/send", `{"subject":"no recipients"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := ts.do(t, http.MethodPost, "/users/u1/accounts/"+accountID+"/send", `{"to":["bob@example.com"],"subject":"hi","body":"x"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sent-1", body["message_id"])

	code, _ = ts.do(t, http.MethodDelete, "/users/u2/accounts/"+accountID, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodDelete, "/users/u1/accounts/"+accountID, "")
	assert.Equal(t, http.StatusOK, code)

	code, body = ts.do(t, http.MethodGet, "/users/u1/accounts", "")
	assert.Equal(t, http.StatusOK, code)
	accounts := body["accounts"].([]any)
	require.Len(t, accounts, 1)
	assert.Equal(t, false, accounts[0].(map[string]any)["is_active"])
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, healthStatusOK, body["status"])

	code, body = ts.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"ready": "ok", "shutdown": "ok", "database": "ok"}, body["checks"])

	code, body = ts.do(t, http.MethodGet, "/healthz/detailed", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, []any{"google"}, body["providers"])

	ts.server.Health().SetReady(false)
	code, _ = ts.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	ts.server.Health().SetReady(true)

	require.NoError(t, ts.sc.Shutdown())
	code, body = ts.do(t, http.MethodGet, "/healthz/detailed", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, healthStatusShuttingDown, body["status"])

	code, _ = ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{model.ErrReAuthRequired, http.StatusUnauthorized, errCodeReconnect},
		{model.ErrExpiredState, http.StatusBadRequest, errCodeExpiredState},
		{model.ErrAlreadyConsumed, http.StatusBadRequest, errCodeConsumedState},
		{model.ErrNotSupported, http.StatusNotImplemented, errCodeNotSupported},
		{model.NewProviderError(model.ProviderGoogle, "list", 429, "", nil), http.StatusTooManyRequests, errCodeRateLimited},
		{model.NewProviderError(model.ProviderGoogle, "list", 503, "", nil), http.StatusBadGateway, errCodeUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError, errCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
