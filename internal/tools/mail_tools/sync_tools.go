package mail_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailsync/internal/server"
	"github.com/teemow/mailsync/internal/tools/common"
)

// RegisterSyncTools registers the sync tools. Syncing only writes to the local
// store, so these are available in read-only mode too.
func RegisterSyncTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	syncAccountTool := mcp.NewTool("mail_sync_account",
		mcp.WithDescription("Pull recent messages of one mailbox into the local store"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user owning the account"),
		),
		mcp.WithString("account_id",
			mcp.Required(),
			mcp.Description("The account to sync"),
		),
		mcp.WithNumber("max_messages",
			mcp.Description("Maximum number of messages to fetch (default: 100)"),
		),
		mcp.WithString("folder",
			mcp.Description("Folder to sync (default: inbox)"),
		),
	)
	s.AddTool(syncAccountTool, common.InstrumentedToolHandler("mail_sync_account", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSyncAccount(ctx, request, sc)
		}))

	syncUserTool := mcp.NewTool("mail_sync_user",
		mcp.WithDescription("Pull recent messages of every active mailbox of a user into the local store"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user to sync"),
		),
		mcp.WithNumber("max_messages",
			mcp.Description("Maximum number of messages to fetch per account (default: 100)"),
		),
		mcp.WithString("folder",
			mcp.Description("Folder to sync (default: inbox)"),
		),
	)
	s.AddTool(syncUserTool, common.InstrumentedToolHandler("mail_sync_user", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSyncUser(ctx, request, sc)
		}))

	statusTool := mcp.NewTool("mail_sync_status",
		mcp.WithDescription("Summarise the stored mail of a user: totals, unread count, folders and last sync time"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user to summarise"),
		),
	)
	s.AddTool(statusTool, common.InstrumentedToolHandler("mail_sync_status", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSyncStatus(ctx, request, sc)
		}))

	return nil
}

func handleSyncAccount(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID, err := common.RequiredString(args, "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	accountID, err := common.RequiredString(args, "account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxMessages, err := common.IntArg(args, "max_messages", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := svc(sc).SyncAccount(ctx, accountID, userID, maxMessages, common.StringArg(args, "folder", ""))
	if err != nil {
		return common.ErrorResult("sync account", err), nil
	}
	return common.JSONResult(res)
}

func handleSyncUser(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID, err := common.RequiredString(args, "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxMessages, err := common.IntArg(args, "max_messages", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return common.JSONResult(svc(sc).SyncUser(ctx, userID, maxMessages, common.StringArg(args, "folder", "")))
}

func handleSyncStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, err := common.RequiredString(request.GetArguments(), "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status, err := svc(sc).SyncStatus(ctx, userID)
	if err != nil {
		return common.ErrorResult("read sync status", err), nil
	}
	return common.JSONResult(status)
}
