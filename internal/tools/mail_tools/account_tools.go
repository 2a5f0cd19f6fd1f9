package mail_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/server"
	"github.com/teemow/mailsync/internal/tools/batch"
	"github.com/teemow/mailsync/internal/tools/common"
)

// RegisterAccountTools registers the connect flow and account management tools.
func RegisterAccountTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	authURLTool := mcp.NewTool("mail_auth_url",
		mcp.WithDescription("Start connecting a mailbox: returns the provider consent URL for a user"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user the mailbox will belong to"),
		),
		mcp.WithString("provider",
			mcp.Required(),
			mcp.Description("Mail provider: google, outlook or yahoo"),
		),
	)
	s.AddTool(authURLTool, common.InstrumentedToolHandler("mail_auth_url", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleAuthURL(ctx, request, sc)
		}))

	completeTool := mcp.NewTool("mail_complete_auth",
		mcp.WithDescription("Finish connecting a mailbox with the code and state the provider returned to the redirect URL"),
		mcp.WithString("provider",
			mcp.Required(),
			mcp.Description("Mail provider: google, outlook or yahoo"),
		),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Authorization code from the redirect"),
		),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("State value from the redirect"),
		),
	)
	s.AddTool(completeTool, common.InstrumentedToolHandler("mail_complete_auth", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCompleteAuth(ctx, request, sc)
		}))

	listTool := mcp.NewTool("mail_list_accounts",
		mcp.WithDescription("List the connected mailboxes of a user, including disconnected ones"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user whose accounts to list"),
		),
	)
	s.AddTool(listTool, common.InstrumentedToolHandler("mail_list_accounts", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListAccounts(ctx, request, sc)
		}))

	if readOnly {
		return nil
	}

	disconnectTool := mcp.NewTool("mail_disconnect_account",
		mcp.WithDescription("Disconnect one or more mailboxes. Stored messages are kept."),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user owning the accounts"),
		),
		mcp.WithString("account_ids",
			mcp.Required(),
			mcp.Description("Account ID (string) or array of account IDs"),
		),
	)
	s.AddTool(disconnectTool, common.InstrumentedToolHandler("mail_disconnect_account", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleDisconnectAccounts(ctx, request, sc)
		}))

	return nil
}

func handleAuthURL(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID, err := common.RequiredString(args, "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	providerName, err := common.RequiredString(args, "provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	url, err := svc(sc).IssueAuthURL(ctx, userID, providerName)
	if err != nil {
		return common.ErrorResult("create authorization URL", err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(`To connect a %s mailbox for user "%s":

1. Visit this URL in your browser:
   %s

2. Sign in and grant access to the mailbox

3. The provider redirects to the configured callback. If the callback is not
   served by this process, pass the code and state from the redirect URL to
   the mail_complete_auth tool.

The link expires after a few minutes and can be used once.`, providerName, userID, url)), nil
}

func handleCompleteAuth(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	providerName, err := common.RequiredString(args, "provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	code, err := common.RequiredString(args, "code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := common.RequiredString(args, "state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	acc, err := svc(sc).CompleteOAuth(ctx, code, state, providerName)
	if err != nil {
		return common.ErrorResult("connect account", err), nil
	}
	return common.JSONResult(map[string]interface{}{"success": true, "account": acc})
}

func handleListAccounts(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, err := common.RequiredString(request.GetArguments(), "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	accounts, err := svc(sc).ListAccounts(ctx, userID)
	if err != nil {
		return common.ErrorResult("list accounts", err), nil
	}
	if accounts == nil {
		accounts = []model.EmailAccount{}
	}
	return common.JSONResult(map[string]interface{}{"accounts": accounts, "total": len(accounts)})
}

func handleDisconnectAccounts(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID, err := common.RequiredString(args, "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := batch.ParseStringOrArray(args["account_ids"], "account_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := batch.ProcessBatch(ctx, ids, func(ctx context.Context, id string) (string, error) {
		if err := svc(sc).DisconnectAccount(ctx, id, userID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Account %s disconnected", id), nil
	})
	return mcp.NewToolResultText(batch.FormatResults(results)), nil
}
