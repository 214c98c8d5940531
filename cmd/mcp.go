package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bounty/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client browse, fund and move bugs through their lifecycle.
Configure in Claude Code with:

  {
    "mcpServers": {
      "bounty": { "command": "bounty", "args": ["mcp", "--as", "user-1"] }
    }
  }

Available tools: bounty_list_bugs, bounty_get_bug, bounty_create_bug,
bounty_fund_bug, bounty_claim_bug, bounty_submit_for_review,
bounty_resolve_bug, bounty_analyze_bug, bounty_funded_by`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	l, err := getLedger()
	if err != nil {
		return err
	}
	defer func() { _ = l.Store().Close() }()

	caller := asUser
	if caller == "" {
		caller = viper.GetString("identity.user_id")
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	srv := mcp.NewServer(l, newAnalysisService(l), caller)
	return srv.ServeStdio(ctx)
}
