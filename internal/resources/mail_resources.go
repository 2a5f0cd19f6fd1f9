package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/server"
)

const (
	providersURI   = "mailsync://providers"
	usersURIPrefix = "mailsync://users/"
)

// RegisterMailResources registers the provider list and the per-user
// resource templates.
func RegisterMailResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if sc == nil || sc.Service() == nil {
		return fmt.Errorf("mail service is not configured")
	}

	providersResource := mcp.NewResource(
		providersURI,
		"Mail Providers",
		mcp.WithResourceDescription("Mail providers this server can connect"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(providersResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleProviders(ctx, request, sc)
	})

	accountsTemplate := mcp.NewResourceTemplate(
		usersURIPrefix+"{user_id}/accounts",
		"User Accounts",
		mcp.WithTemplateDescription("Connected mailboxes of a user"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.AddResourceTemplate(accountsTemplate, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleUserAccounts(ctx, request, sc)
	})

	statusTemplate := mcp.NewResourceTemplate(
		usersURIPrefix+"{user_id}/status",
		"User Sync Status",
		mcp.WithTemplateDescription("Message totals, unread count, folders and last sync time of a user"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.AddResourceTemplate(statusTemplate, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleUserStatus(ctx, request, sc)
	})

	return nil
}

func handleProviders(_ context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, map[string]interface{}{
		"providers": sc.Service().Providers(),
		"version":   sc.Version(),
	})
}

func handleUserAccounts(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	userID, err := userFromURI(request.Params.URI, "accounts")
	if err != nil {
		return nil, err
	}
	accounts, err := sc.Service().ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if accounts == nil {
		accounts = []model.EmailAccount{}
	}
	return jsonContents(request.Params.URI, map[string]interface{}{
		"user_id":  userID,
		"accounts": accounts,
	})
}

func handleUserStatus(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	userID, err := userFromURI(request.Params.URI, "status")
	if err != nil {
		return nil, err
	}
	status, err := sc.Service().SyncStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}
	return jsonContents(request.Params.URI, status)
}

// userFromURI extracts the user id from mailsync://users/{user_id}/<leaf>.
func userFromURI(uri, leaf string) (string, error) {
	rest, ok := strings.CutPrefix(uri, usersURIPrefix)
	if !ok {
		return "", fmt.Errorf("unexpected resource URI %q", uri)
	}
	userID, ok := strings.CutSuffix(rest, "/"+leaf)
	if !ok || userID == "" || strings.Contains(userID, "/") {
		return "", fmt.Errorf("unexpected resource URI %q", uri)
	}
	return userID, nil
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
