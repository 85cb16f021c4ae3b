package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/internal/config"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a JSON diagram specification against the vocabulary",
		Long: `validate reads a specification from file, or from stdin when the argument
is omitted or "-", and prints the validation report as JSON. The exit status
is 2 when the specification has violations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			rt, err := root.runtime(cmd, false, withoutEventLog)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			report, err := rt.Service.ValidateSpecification(commandContext(cmd), string(raw))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Valid {
				return &exitError{code: 2}
			}
			return nil
		},
	}
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}

// withoutEventLog keeps read-only commands from opening the database, unless
// it is needed to unseal the generator key.
func withoutEventLog(cfg *config.Config) {
	if cfg.VaultKey == "" || cfg.LLMAPIKey != "" {
		cfg.DBPath = ""
	}
}
