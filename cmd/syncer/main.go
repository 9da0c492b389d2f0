// Command syncer runs the Syncer service (C10 in spec.md): it pushes
// archives, live state, and processed images to REMOTE_ROOT_DIR.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"phorest/internal/config"
	"phorest/internal/syncer"
)

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[syncer] failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := syncer.New(cfg)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[syncer] exited with fatal error: %v", err)
	}
}
