package main

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/internal/conversation"
	"github.com/rendis/diagrammer/internal/service"
	"github.com/rendis/diagrammer/pkg/schema"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Describe an architecture interactively until a diagram is produced",
		Long: `chat reads one message per line. The assistant asks clarifying questions
until it knows enough, then writes the diagram into --out-dir and ends the
conversation. Type "exit" or send EOF to leave early.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := root.runtime(cmd, false, nil)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			token := ""

			fmt.Fprintln(out, "Describe the system you want to draw.")
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}

				reply, err := rt.Service.Converse(ctx, service.ConverseRequest{Token: token, Message: line})
				if reply != nil {
					token = reply.Token
				}
				if err != nil {
					if reply != nil && reply.Result != nil {
						printRunSummary(cmd.ErrOrStderr(), reply.Result)
					}
					fmt.Fprintf(out, "! %s\n", err.Error())
					if schema.IsCode(err, schema.ErrCodeConversationClosed) {
						return nil
					}
					continue
				}

				fmt.Fprintln(out, reply.Message)
				if reply.Action == conversation.ActionGenerate && reply.Status == schema.ConversationStatusReady {
					art := reply.Result.Artifact
					path := filepath.Join(outDir, reply.Token+"."+extension(art.Format))
					return writeArtifact(out, path, art.Data)
				}
			}
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory the finished diagram is written to")
	return cmd
}

func extension(format string) string {
	if format == "mermaid" {
		return "mmd"
	}
	return format
}
