package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/pkg/mcp"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the diagram tools over MCP on stdio",
		Long: `mcp speaks the Model Context Protocol on stdin/stdout. Logs go to stderr
so they never corrupt the protocol stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := root.runtime(cmd, false, nil)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)
			if err := rt.Start(ctx); err != nil {
				return err
			}

			srv := mcp.NewDiagramServer(mcp.DiagramServerDeps{
				Service: rt.Service,
				Hub:     rt.Hub,
				Version: version,
				Logger:  rt.Logger,
			})
			rt.Logger.Info("mcp server ready on stdio")
			return srv.Serve(ctx)
		},
	}
}
