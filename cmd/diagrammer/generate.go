package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/internal/engine"
	"github.com/rendis/diagrammer/internal/service"
)

func newGenerateCmd(root *rootOptions) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "generate <description>",
		Short: "Generate one diagram from a description",
		Example: `  diagrammer generate "web app with a load balancer and a database" --format mermaid
  diagrammer generate "three tier app on AWS" -o arch.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := root.runtime(cmd, false, nil)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			res, err := rt.Service.GenerateDiagram(commandContext(cmd), service.GenerateRequest{
				Description: strings.Join(args, " "),
				Format:      format,
			})
			if res != nil {
				printRunSummary(cmd.ErrOrStderr(), res)
			}
			if err != nil {
				return err
			}
			return writeArtifact(cmd.OutOrStdout(), out, res.Artifact.Data)
		},
	}
	cmd.Flags().StringVarP(&format, "output-format", "f", "", "png, svg, dot or mermaid (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the diagram to this file instead of stdout")
	return cmd
}

func printRunSummary(w io.Writer, res *engine.Result) {
	if res.Success {
		fmt.Fprintf(w, "run %s: %d nodes, %d connections, %d clusters after %d attempt(s) in %s\n",
			res.RunID, res.NodesCreated, res.Connections, res.Clusters, res.Attempts, res.Duration.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "run %s failed after %d attempt(s)\n", res.RunID, res.Attempts)
	for _, v := range res.Violations {
		fmt.Fprintf(w, "  - %s\n", v.String())
	}
}

func writeArtifact(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "wrote %s (%d bytes)\n", path, len(data))
	return nil
}
