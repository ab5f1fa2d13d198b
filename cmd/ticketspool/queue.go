package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orrn/ticketspool/internal/queue"
)

func newQueueCmd(opts *rootOptions) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the print queue",
	}

	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many jobs are pending and in flight on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			manager, err := openQueue(cfg)
			if err != nil {
				return err
			}

			snap := manager.Snapshot()
			failed, err := manager.Store().List(queue.StageFailed)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"pending":    snap.Pending,
					"processing": snap.Processing,
					"total":      snap.Total,
					"parked":     len(failed),
				})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "queue dir\t%s\n", cfg.Queue.Dir)
			fmt.Fprintf(w, "pending\t%d\n", snap.Pending)
			fmt.Fprintf(w, "processing\t%d\n", snap.Processing)
			fmt.Fprintf(w, "failed (parked)\t%d\n", len(failed))
			return w.Flush()
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	queueCmd.AddCommand(statusCmd)
	return queueCmd
}
