package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vin-jex/relay-gateway/internal/config"
	"github.com/vin-jex/relay-gateway/internal/gateway"
	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/store"
)

// session is the connection shared by every subcommand of one invocation.
type session struct {
	store  *store.Store
	queues map[string]queue.Queue
}

func newRootCmd() *cobra.Command {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Administer the relay gateway's queues and schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			storeLayer, err := store.NewStore(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}

			// Only the durable queues are reachable from outside the
			// control plane process.
			queues, err := gateway.NewQueues(gateway.BackendPostgres, storeLayer, queue.Policies(cfg.Queues))
			if err != nil {
				storeLayer.Close()
				return err
			}

			s.store = storeLayer
			s.queues = queues
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if s.store != nil {
				s.store.Close()
			}
		},
	}

	rootCmd.AddCommand(dlqCmd(s))
	rootCmd.AddCommand(queueCmd(s))
	rootCmd.AddCommand(migrateCmd(s))
	rootCmd.AddCommand(apiKeyCmd(s))

	return rootCmd
}

func (s *session) queue(name string) (queue.Queue, error) {
	q, ok := s.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", queue.ErrUnknownQueue, name)
	}
	return q, nil
}
