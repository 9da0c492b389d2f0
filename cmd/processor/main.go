// Command processor runs the Processor service (C6 in spec.md): it
// consumes newly-collected manifest entries, runs the analysis kernel
// over each, and records the results.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"phorest/internal/collector"
	"phorest/internal/config"
	"phorest/internal/processor"
)

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[processor] failed to load config: %v", err)
	}

	roiTable, err := collector.LoadROITable(cfg.ROIManifestPath())
	if err != nil {
		log.Fatalf("[processor] failed to load ROI manifest: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := processor.New(cfg, roiTable)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[processor] exited with fatal error: %v", err)
	}
}
