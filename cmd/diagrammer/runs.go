package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "runs <run-id>",
		Short: "Replay the recorded events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := root.runtime(cmd, false, nil)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)
			if rt.Store == nil {
				return errors.New("event log is disabled (db_path is empty)")
			}

			hist, err := rt.Store.ReplayEvents(commandContext(cmd), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(hist)
			}

			fmt.Fprintf(w, "run %s: %s, %d attempt(s), %d rejected\n", hist.RunID, hist.Status, hist.Attempts, hist.Rejected)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tEVENT\tATTEMPT\tAT")
			for _, ev := range hist.Events {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", ev.Sequence, ev.Type, ev.Attempt, ev.CreatedAt.Format("15:04:05.000"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full history as JSON")
	return cmd
}
