// Command backup runs the Backup service (C9 in spec.md): it archives
// the shared state files into BACKUP_DIR and compresses the tree.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"phorest/internal/backup"
	"phorest/internal/config"
)

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[backup] failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := backup.New(cfg)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[backup] exited with fatal error: %v", err)
	}
}
