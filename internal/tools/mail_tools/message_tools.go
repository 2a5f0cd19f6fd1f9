package mail_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/server"
	"github.com/teemow/mailsync/internal/service"
	"github.com/teemow/mailsync/internal/store"
	"github.com/teemow/mailsync/internal/tools/batch"
	"github.com/teemow/mailsync/internal/tools/common"
)

const defaultListLimit = 20

// RegisterMessageTools registers the stored message query and, unless
// readOnly, the send tool.
func RegisterMessageTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listTool := mcp.NewTool("mail_list_messages",
		mcp.WithDescription("List synced messages of a user from the local store, newest first"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user whose messages to list"),
		),
		mcp.WithString("account_id",
			mcp.Description("Only messages of this account"),
		),
		mcp.WithString("folder",
			mcp.Description("Only messages of this folder"),
		),
		mcp.WithBoolean("unread",
			mcp.Description("Only unread messages (default: false)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return (default: 20)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of messages to skip"),
		),
	)
	s.AddTool(listTool, common.InstrumentedToolHandler("mail_list_messages", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListMessages(ctx, request, sc)
		}))

	if readOnly {
		return nil
	}

	sendTool := mcp.NewTool("mail_send_email",
		mcp.WithDescription("Send an email from a connected mailbox"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user owning the account"),
		),
		mcp.WithString("account_id",
			mcp.Required(),
			mcp.Description("The account to send from"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient address, comma separated addresses or an array of addresses"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject line"),
		),
		mcp.WithString("body",
			mcp.Description("Message body"),
		),
		mcp.WithBoolean("is_html",
			mcp.Description("Send the body as HTML (default: false)"),
		),
	)
	s.AddTool(sendTool, common.InstrumentedToolHandler("mail_send_email", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSendEmail(ctx, request, sc)
		}))

	return nil
}

func handleListMessages(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID, err := common.RequiredString(args, "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit, err := common.IntArg(args, "limit", defaultListLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	offset, err := common.IntArg(args, "offset", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msgs, err := svc(sc).ListMessages(ctx, store.MessageQuery{
		UserID:    userID,
		AccountID: common.StringArg(args, "account_id", ""),
		Folder:    common.StringArg(args, "folder", ""),
		Unread:    common.BoolArg(args, "unread", false),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return common.ErrorResult("list messages", err), nil
	}
	if msgs == nil {
		msgs = []model.CanonicalEmailMessage{}
	}
	return common.JSONResult(map[string]interface{}{
		"messages": msgs,
		"total":    len(msgs),
		"limit":    limit,
		"offset":   offset,
	})
}

func handleSendEmail(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID, err := common.RequiredString(args, "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	accountID, err := common.RequiredString(args, "account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := batch.ParseStringOrArray(args["to"], "to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	subject, err := common.RequiredString(args, "subject")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := svc(sc).SendEmail(ctx, accountID, userID, service.SendRequest{
		To:      to,
		Subject: subject,
		Body:    common.StringArg(args, "body", ""),
		IsHTML:  common.BoolArg(args, "is_html", false),
	})
	if err != nil {
		return common.ErrorResult("send email", err), nil
	}
	return common.JSONResult(map[string]interface{}{"success": true, "message_id": id})
}
