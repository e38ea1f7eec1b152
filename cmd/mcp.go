package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agentic-research/assetgen/internal/mcpserver"
	"github.com/agentic-research/assetgen/internal/spec"
)

var mcpPlay bool

var mcpCmd = &cobra.Command{
	Use:   "mcp [session.json|session.yaml]",
	Short: "Serve the asset pipeline as MCP tools over stdio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if mcpPlay {
			err = p.host.Play(ctx, p.svc)
		} else {
			err = p.svc.SyncOpenDocuments(ctx)
		}
		if err != nil {
			return err
		}
		if err := p.settle(ctx); err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a := &spec.Analyzer{SVGEnabled: cfg.SVGEnabled, WebPEnabled: cfg.WebPEnabled}
		return mcpserver.New(p.svc, a, version).ServeStdio()
	},
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpPlay, "play", false, "Play the session's events before serving")
	rootCmd.AddCommand(mcpCmd)
}
