package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/server"
	"github.com/teemow/mailsync/internal/service"
	"github.com/teemow/mailsync/internal/store"
	"github.com/teemow/mailsync/internal/tools/mail_tools"
)

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all MCP tools from their registered
definitions, so the reference never drifts from the implementation.`,
		// Needs no config or database.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(cmd.Context(), outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func runGenerateDocs(ctx context.Context, outputFile string) error {
	tools, err := listMailTools(ctx)
	if err != nil {
		return err
	}
	markdown := generateToolsMarkdown(tools)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
		return nil
	}
	fmt.Print(markdown)
	return nil
}

// listMailTools registers every tool, including write tools, against a
// throwaway in-memory service.
func listMailTools(ctx context.Context) ([]mcp.Tool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(ctx, store.Config{DSN: ":memory:"})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	sc := server.NewServerContext(ctx, service.New(st, provider.NewSet(), service.Options{}), version)
	defer sc.Shutdown()

	mcpSrv := mcpserver.NewMCPServer("mailsync", version, mcpserver.WithToolCapabilities(true))
	if err := mail_tools.RegisterMailTools(mcpSrv, sc, false); err != nil {
		return nil, fmt.Errorf("failed to register mail tools: %w", err)
	}

	serverTools := mcpSrv.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}
	return tools, nil
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document lists the tools available when running `mailsync serve --transport stdio`.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	toolsByCategory := groupToolsByCategory(tools)
	categories := make([]string, 0, len(toolsByCategory))
	for category := range toolsByCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	sb.WriteString("## Table of Contents\n\n")
	for _, category := range categories {
		anchor := strings.ToLower(strings.ReplaceAll(category, " ", "-"))
		sb.WriteString(fmt.Sprintf("- [%s](#%s)\n", category, anchor))
	}
	sb.WriteString("\n")

	sb.WriteString("## Read-only Mode\n\n")
	sb.WriteString("Without `--yolo`, `mail_send_email` and `mail_disconnect_account` are not registered.\n\n")

	for _, category := range categories {
		categoryTools := toolsByCategory[category]
		sort.Slice(categoryTools, func(i, j int) bool {
			return categoryTools[i].Name < categoryTools[j].Name
		})

		sb.WriteString(fmt.Sprintf("## %s\n\n", category))
		for _, tool := range categoryTools {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func groupToolsByCategory(tools []mcp.Tool) map[string][]mcp.Tool {
	categories := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		category := getCategoryFromToolName(tool.Name)
		categories[category] = append(categories[category], tool)
	}
	return categories
}

func getCategoryFromToolName(name string) string {
	switch {
	case strings.HasPrefix(name, "mail_sync_"):
		return "Sync Tools"
	case strings.Contains(name, "_auth") || strings.Contains(name, "_account"):
		return "Account Tools"
	case strings.HasPrefix(name, "mail_"):
		return "Message Tools"
	default:
		return "Other"
	}
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("### %s\n\n", tool.Name))
	if tool.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", tool.Description))
	}

	if len(tool.InputSchema.Properties) > 0 {
		sb.WriteString("**Arguments:**\n")

		propNames := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)

		for _, name := range propNames {
			propMap, ok := tool.InputSchema.Properties[name].(map[string]interface{})
			if !ok {
				continue
			}

			requiredStr := "optional"
			if contains(tool.InputSchema.Required, name) {
				requiredStr = "required"
			}

			sb.WriteString(fmt.Sprintf("- `%s` (%s, %s): ", name, getPropertyType(propMap), requiredStr))
			if desc, ok := propMap["description"].(string); ok {
				sb.WriteString(desc)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func getPropertyType(prop map[string]interface{}) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
