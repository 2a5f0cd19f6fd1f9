package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mailsync/internal/model"
)

// StringArg returns a string argument or def when it is absent or empty.
func StringArg(args map[string]interface{}, name, def string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return def
}

// RequiredString returns a non-empty string argument.
func RequiredString(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("'%s' is required", name)
	}
	return v, nil
}

// IntArg returns a numeric argument as an int. JSON numbers arrive as float64.
func IntArg(args map[string]interface{}, name string, def int) (int, error) {
	switch v := args[name].(type) {
	case nil:
		return def, nil
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("'%s' must not be negative", name)
		}
		return int(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("'%s' must not be negative", name)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("'%s' must be a number", name)
	}
}

// BoolArg returns a boolean argument or def.
func BoolArg(args map[string]interface{}, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}

// JSONResult encodes v as indented JSON text.
func JSONResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ErrorResult turns a service error into a tool error result with a hint
// the agent can act on.
func ErrorResult(action string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("Failed to %s: %v", action, err)
	switch {
	case errors.Is(err, model.ErrReAuthRequired), errors.Is(err, model.ErrUnauthorized):
		msg += "\n\nThe account must be reconnected. Use mail_auth_url to get a new consent link."
	case errors.Is(err, model.ErrAccountNotFound):
		msg += "\n\nUse mail_list_accounts to see the accounts of this user."
	case errors.Is(err, model.ErrProviderRateLimited):
		msg += "\n\nThe provider is rate limiting requests. Try again later."
	}
	return mcp.NewToolResultError(msg)
}
