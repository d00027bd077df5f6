// Scheduler is a long-running component that runs the periodic sweeps.
//
// Responsibilities:
//   - Return jobs whose lease expired to their queue as failed attempts
//   - Enqueue workflows whose schedule trigger is due
//   - Remain stateless and crash-safe
//
// The scheduler does not execute jobs.
// It only coordinates state transitions via the store layer.
//
// This binary is intended to be run as a standalone process.
// Multiple schedulers may run concurrently.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/vin-jex/relay-gateway/internal/config"
	"github.com/vin-jex/relay-gateway/internal/gateway"
	"github.com/vin-jex/relay-gateway/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if cfg.QueueBackend != gateway.BackendPostgres {
		log.Fatal("a standalone scheduler needs QUEUE_BACKEND=postgres")
	}

	logger := observability.NewLogger("scheduler")

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	gw, err := gateway.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer gw.Close()

	gw.Scheduler().Run(ctx)
}
