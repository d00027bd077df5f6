// Gatewayctl inspects and repairs the gateway's queues from the command
// line: dead-letter listing and resubmission, queue counters, schema
// migrations and API key issuance.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}
