// Worker runs the consumers of the workflow, webhook and proof queues.
//
// Responsibilities:
//   - Claim jobs and run them under each queue's job timeout
//   - Extend leases while a job runs
//   - Report completion or failure back to the queue
//
// Workers do not decide retries or dead-lettering. The queue does.
//
// This binary is intended to be run as a standalone process.
// Multiple workers may run concurrently.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vin-jex/relay-gateway/internal/config"
	"github.com/vin-jex/relay-gateway/internal/gateway"
	"github.com/vin-jex/relay-gateway/internal/mail"
	"github.com/vin-jex/relay-gateway/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if cfg.QueueBackend != gateway.BackendPostgres {
		log.Fatal("standalone workers need QUEUE_BACKEND=postgres")
	}

	logger := observability.NewLogger("worker")

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

	var mailer mail.Mailer
	sesMailer, err := mail.NewSESMailer(ctx, cfg.AWSRegion, cfg.EmailFrom, logger)
	if err != nil {
		logger.Warn("email actions disabled", "err", err)
	} else {
		mailer = sesMailer
	}

	metricsServer := gateway.MetricsServer(cfg.MetricsAddr)

	group, groupCtx := errgroup.WithContext(ctx)

	for _, w := range gw.Workers(mailer) {
		group.Go(func() error {
			return w.Run(groupCtx)
		})
	}

	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal(err)
	}
}
