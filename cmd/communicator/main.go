// Command communicator runs the Communicator service (C7 in
// spec.md): it dispatches newly-processed results via the configured
// communication method.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"phorest/internal/communicator"
	"phorest/internal/config"
)

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[communicator] failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := communicator.New(cfg)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[communicator] exited with fatal error: %v", err)
	}
}
