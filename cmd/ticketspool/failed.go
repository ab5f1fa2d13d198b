package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newFailedCmd(opts *rootOptions) *cobra.Command {
	failedCmd := &cobra.Command{
		Use:   "failed",
		Short: "Manage jobs parked after a failed print",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List parked jobs and why they failed",
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

			jobs, err := manager.ListFailed()
			if err != nil {
				return fmt.Errorf("failed to list failed jobs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No failed jobs.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFAILED AT\tERROR")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", job.ID, formatTime(job.FailedAt), job.Error)
			}
			return w.Flush()
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Move parked jobs back to the pending queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			manager, err := openQueue(cfg)
			if err != nil {
				return err
			}

			for _, id := range args {
				if err := manager.RetryFailed(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to retry %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved back to pending.\n", id)
			}
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge [job-id...]",
		Short: "Delete parked jobs and their error details",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			manager, err := openQueue(cfg)
			if err != nil {
				return err
			}

			for _, id := range args {
				if err := manager.PurgeFailed(id); err != nil {
					return fmt.Errorf("failed to purge %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s deleted.\n", id)
			}
			return nil
		},
	}

	failedCmd.AddCommand(listCmd, retryCmd, purgeCmd)
	return failedCmd
}
