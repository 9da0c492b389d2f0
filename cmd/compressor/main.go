// Command compressor runs the Compressor service (C8 in spec.md): it
// gzips processed images that have not yet been compressed.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"phorest/internal/compressor"
	"phorest/internal/config"
)

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[compressor] failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := compressor.New(cfg)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[compressor] exited with fatal error: %v", err)
	}
}
