// Command workers runs the two Kafka consumers that decouple webhook
// handling and delayed processUserCalls wake-ups from the request/tick
// paths: StatusApplier (webhook-event topic) and Wakeup (wakeup topic).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/acme/campaign-orchestrator/internal/app"
	"github.com/acme/campaign-orchestrator/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-workers")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return container.StatusApplierWorker().Run(gctx) })
	group.Go(func() error { return container.WakeupWorker().Run(gctx) })

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("workers terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
