package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/internal/vocabulary"
)

func newKindsCmd(root *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List the node kinds a specification may use",
		Long: `kinds prints the registered vocabulary. --output hcl emits a file that
--vocabulary (or vocabulary_file) accepts, handy as a starting point for
custom kinds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := root.runtime(cmd, false, withoutEventLog)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			kinds := rt.Service.Kinds()
			w := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(kinds)
			case "hcl":
				_, err := w.Write(vocabulary.Encode(kinds))
				return err
			case "table":
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tCATEGORY\tSHAPE\tALIASES")
				for _, k := range kinds {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.Name, k.Category, k.Shape, strings.Join(k.Aliases, ","))
				}
				return tw.Flush()
			default:
				return fmt.Errorf("unknown output %q (want table, json or hcl)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "table, json or hcl")
	return cmd
}
