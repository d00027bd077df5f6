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
	"github.com/vin-jex/relay-gateway/internal/migrate"
	"github.com/vin-jex/relay-gateway/internal/observability"
	"github.com/vin-jex/relay-gateway/internal/ratelimit"
)

// @title Relay Gateway API
// @version 1.0
// @description Multi-tenant gateway for RPC proxying, workflows, webhooks and proof jobs.
// @termsOfService https://example.com/terms

// @contact.name Okereke Vincent
// @contact.url https://github.com/vin-jex
// @contact.email vincentcode0@gmail.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

// @BasePath /
// @schemes http
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger("control-plane")

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

	if err := migrate.Run(ctx, gw.Store.Pool(), logger); err != nil {
		log.Fatal(err)
	}

	redisClient, err := ratelimit.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled", "err", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      gw.Server(redisClient).Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 150 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("control plane listening", "addr", cfg.HTTPAddr, "queue_backend", cfg.QueueBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	// In-memory queues live in this process, so their consumers and sweeps
	// must too.
	if cfg.QueueBackend == gateway.BackendMemory {
		for _, w := range gw.Workers(nil) {
			group.Go(func() error {
				return w.Run(groupCtx)
			})
		}

		sweeper := gw.Scheduler()
		group.Go(func() error {
			sweeper.Run(groupCtx)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Fatal(err)
	}
}
