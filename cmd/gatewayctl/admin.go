package main

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vin-jex/relay-gateway/internal/migrate"
	"github.com/vin-jex/relay-gateway/internal/observability"
)

func queueCmd(s *session) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect queues",
	}

	statsCmd := &cobra.Command{
		Use:   "stats [queue...]",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				for name := range s.queues {
					names = append(names, name)
				}
				slices.Sort(names)
			}

			out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "QUEUE\tWAITING\tACTIVE\tCOMPLETED\tFAILED\tDEAD")

			for _, name := range names {
				q, err := s.queue(name)
				if err != nil {
					return err
				}

				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("stats for %s: %w", name, err)
				}

				fmt.Fprintf(out, "%s\t%d\t%d\t%d\t%d\t%d\n",
					name, stats.Waiting, stats.Active, stats.Completed, stats.Failed, stats.Dead)
			}

			return out.Flush()
		},
	}

	queueCmd.AddCommand(statsCmd)
	return queueCmd
}

func migrateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate.Run(cmd.Context(), s.store.Pool(), observability.NewLogger("gatewayctl"))
		},
	}
}

func apiKeyCmd(s *session) *cobra.Command {
	apiKeyCmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage tenant API keys",
	}

	var (
		tenant string
		tier   string
	)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := uuid.New()
			if tenant != "" {
				parsed, err := uuid.Parse(tenant)
				if err != nil {
					return fmt.Errorf("invalid tenant id %q: %w", tenant, err)
				}
				tenantID = parsed
			}

			key, err := s.store.CreateAPIKey(cmd.Context(), tenantID, tier)
			if err != nil {
				return err
			}

			fmt.Printf("tenant: %s\ntier:   %s\nkey:    %s\n", tenantID, tier, key)
			fmt.Println("The key is shown once; only its hash is stored.")
			return nil
		},
	}
	createCmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (a new tenant when empty)")
	createCmd.Flags().StringVar(&tier, "tier", "free", "rate limit tier")

	apiKeyCmd.AddCommand(createCmd)
	return apiKeyCmd
}
