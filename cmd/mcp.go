package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/panel/internal/mcp"
	"github.com/joescharf/panel/internal/session"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent host integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an agent host drive reviews natively. Configure with:

  {
    "mcpServers": {
      "panel": { "command": "panel", "args": ["mcp"] }
    }
  }

Available tools: panel_start_review, panel_review_status,
panel_list_reviews, panel_cancel_review`,
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := engineFactory()
		if err != nil {
			return err
		}

		registry := session.NewRegistry()
		server := mcp.NewServer(registry, factory)
		return server.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
