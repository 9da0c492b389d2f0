// Command healthsupervisor runs the Health Supervisor service (C11 in
// spec.md): it classifies each pipeline service's liveness from the
// shared status file and renders a one-row-per-service report.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"phorest/internal/config"
	"phorest/internal/health"
)

// roster is the fixed set of long-running services the supervisor
// watches (C5-C10); it does not watch itself.
var roster = []string{"collector", "processor", "communicator", "compressor", "backup", "syncer"}

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[healthsupervisor] failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := health.New(cfg, roster)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[healthsupervisor] exited with fatal error: %v", err)
	}
}
