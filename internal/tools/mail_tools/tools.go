package mail_tools

import (
	"errors"
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailsync/internal/server"
	"github.com/teemow/mailsync/internal/service"
)

var errNoService = errors.New("mail service is not configured")

// RegisterMailTools registers all mail tools with the MCP server.
func RegisterMailTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if sc == nil || sc.Service() == nil {
		return errNoService
	}

	if err := RegisterAccountTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register account tools: %w", err)
	}
	if err := RegisterSyncTools(s, sc); err != nil {
		return fmt.Errorf("failed to register sync tools: %w", err)
	}
	if err := RegisterMessageTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register message tools: %w", err)
	}
	return nil
}

func svc(sc *server.ServerContext) *service.Service {
	return sc.Service()
}
