// Command collector runs the Collector service (C5 in spec.md): it
// acquires camera frames and thermocouple readings on a fixed cadence
// and appends them to the shared manifest.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"phorest/internal/camera"
	"phorest/internal/collector"
	"phorest/internal/config"
	"phorest/internal/thermocouple"
)

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[collector] failed to load config: %v", err)
	}

	cam, err := buildCameraDriver(cfg)
	if err != nil {
		log.Fatalf("[collector] failed to build camera driver: %v", err)
	}

	var therm thermocouple.Driver
	if cfg.Services.EnableThermocouple {
		names := make([]string, 0, len(cfg.Temperature.ThermocoupleSensors))
		for name := range cfg.Temperature.ThermocoupleSensors {
			names = append(names, name)
		}
		therm = thermocouple.NewDummyDriver(names, 25.0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := collector.New(cfg, cam, therm)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[collector] exited with fatal error: %v", err)
	}
}

func buildCameraDriver(cfg *config.Config) (camera.Driver, error) {
	switch cfg.Camera.CameraType {
	case config.CameraFileImporter:
		return camera.NewFileImporterDriver(cfg.Paths.ContinuousCaptureDir, cfg.Camera.CameraID)
	case config.CameraHawkeye:
		return camera.NewHawkeyeDriver(cfg.Camera.CameraID, cfg.Camera.CameraExposure, cfg.Camera.CameraGain, cfg.Camera.CameraBrightness, cfg.Camera.CameraContrast), nil
	default:
		return camera.NewDummyDriver(cfg.Camera.CameraID), nil
	}
}
