package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vin-jex/relay-gateway/internal/api"
	"github.com/vin-jex/relay-gateway/internal/queue"
)

func dlqCmd(s *session) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage dead and failed jobs",
	}

	var limit int

	listCmd := &cobra.Command{
		Use:   "list [queue]",
		Short: "List dead and failed jobs of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := s.queue(args[0])
			if err != nil {
				return err
			}

			var jobs []queue.Job
			for _, status := range []queue.Status{queue.StatusDead, queue.StatusFailed} {
				batch, err := q.List(cmd.Context(), status, limit)
				if err != nil {
					return fmt.Errorf("list %s jobs: %w", status, err)
				}
				jobs = append(jobs, batch...)
			}

			if len(jobs) == 0 {
				fmt.Printf("No dead or failed jobs in %s.\n", q.Name())
				return nil
			}

			out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "ID\tSTATUS\tATTEMPTS\tLAST ERROR")
			for _, job := range jobs {
				fmt.Fprintf(out, "%s\t%s\t%d/%d\t%s\n", job.ID, job.Status, job.Attempt, job.MaxAttempts, job.LastError)
			}
			return out.Flush()
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 100, "maximum jobs per status")

	retryCmd := &cobra.Command{
		Use:   "retry [queue] [job-id]",
		Short: "Resubmit a dead or failed job with a fresh attempt budget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := s.queue(args[0])
			if err != nil {
				return err
			}

			jobID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[1], err)
			}

			if err := api.Resubmit(cmd.Context(), s.store, q, jobID); err != nil {
				return err
			}

			fmt.Printf("Job %s moved back to waiting on %s.\n", jobID, q.Name())
			return nil
		},
	}

	dlqCmd.AddCommand(listCmd)
	dlqCmd.AddCommand(retryCmd)
	return dlqCmd
}
