// Package collector implements the Collector service (C5 in spec.md):
// a timed state machine that captures one frame (and optionally one
// temperature reading) per cycle, appends it to the shared manifest,
// runs ring-buffer cleanup, and signals the Processor.
package collector

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"phorest/internal/camera"
	"phorest/internal/config"
	"phorest/internal/flagfile"
	"phorest/internal/lockfile"
	"phorest/internal/manifest"
	"phorest/internal/roigen"
	"phorest/internal/svcstatus"
	"phorest/internal/thermocouple"
)

// State is the Collector's state-machine position (spec.md §4.4).
type State string

const (
	StateIdle        State = "IDLE"
	StateWaitingToRun State = "WAITING_TO_RUN"
	StateCollecting  State = "COLLECTING"
	StateFatalError  State = "FATAL_ERROR"
)

// Collector drives the camera/thermocouple capture cycle.
type Collector struct {
	cfg    *config.Config
	camera camera.Driver
	therm  thermocouple.Driver // nil if EnableThermocouple is false

	state         State
	failureCount  int
	filenameIndex int
}

// New constructs a Collector. therm may be nil when thermocouple
// collection is disabled.
func New(cfg *config.Config, cam camera.Driver, therm thermocouple.Driver) *Collector {
	return &Collector{cfg: cfg, camera: cam, therm: therm, state: StateIdle}
}

// Run drives the Collector's cadence loop until ctx is cancelled,
// writing status=stopped on clean exit (spec.md §5). It returns a
// non-nil error only when the startup snapshot fails or on
// FATAL_ERROR, matching the process's non-zero
// exit-code contract (spec.md §6).
func (c *Collector) Run(ctx context.Context) error {
	if err := c.snapshotOnStartup(); err != nil {
		return fmt.Errorf("collector: startup snapshot: %w", err)
	}

	interval := time.Duration(c.cfg.Timing.CollectorInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.state = StateWaitingToRun
		select {
		case <-ctx.Done():
			c.state = StateIdle
			if err := svcstatus.Stopped(c.cfg.StatusPath(), "collector"); err != nil {
				log.Printf("[collector] failed to record clean shutdown: %v", err)
			}
			return nil
		case <-ticker.C:
		}

		c.state = StateCollecting
		if err := c.runCycle(ctx); err != nil {
			c.state = StateFatalError
			log.Printf("[collector] fatal: %v", err)
			_ = svcstatus.Set(c.cfg.StatusPath(), "collector", svcstatus.Status{RunState: svcstatus.StateStopped, Command: "collector"})
			return err
		}
		c.state = StateIdle

		if err := svcstatus.Heartbeat(c.cfg.StatusPath(), "collector", "collector", c.cfg.Timing.CollectorInterval, time.Now()); err != nil {
			log.Printf("[collector] failed to record heartbeat: %v", err)
		}
	}
}

// runCycle implements one COLLECTING step of spec.md §4.4.
func (c *Collector) runCycle(ctx context.Context) error {
	if err := os.MkdirAll(c.cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	frame, entry, err := c.acquireWithRetry(ctx)
	if err != nil {
		return err // FAILURE_LIMIT reached; fatal per spec.md §4.4 step 1
	}
	c.failureCount = 0

	if c.therm != nil {
		readings, err := c.therm.Read(ctx)
		if err != nil {
			entry.TemperatureData = &manifest.TemperatureData{
				TimestampISO: manifest.NewTimestampISO(time.Now()),
				ErrorFlag:    true,
				ErrorMessage: err.Error(),
			}
			log.Printf("[collector] thermocouple read failed (non-fatal): %v", err)
		} else {
			entry.TemperatureData = &manifest.TemperatureData{
				TimestampISO: manifest.NewTimestampISO(time.Now()),
				Data:         readings,
			}
		}
	}

	entry.ProcessingStatus = manifest.StatusPending
	if err := manifest.Append(c.cfg.ManifestPath(), entry, time.Now); err != nil {
		return fmt.Errorf("append manifest entry: %w", err)
	}

	if err := c.ringBufferCleanup(); err != nil {
		log.Printf("[collector] ring-buffer cleanup failed: %v", err)
	}

	if err := flagfile.Touch(c.cfg.DataReadyFlagPath()); err != nil {
		return fmt.Errorf("touch data_ready: %w", err)
	}

	_ = frame // frame metadata already folded into entry.CameraData
	return nil
}

// acquireWithRetry runs spec.md §4.4 step 1: invoke the camera driver,
// retrying with RETRY_DELAY between attempts, fatal once failureCount
// reaches FAILURE_LIMIT.
func (c *Collector) acquireWithRetry(ctx context.Context) (camera.Frame, manifest.Entry, error) {
	retryDelay := time.Duration(c.cfg.Timing.CollectorRetryDelay) * time.Second

	for {
		c.filenameIndex++
		filename := fmt.Sprintf("frame_%06d.jpg", c.filenameIndex)

		frame, meta, err := c.camera.AcquireFrame(ctx, c.cfg.Paths.DataDir, filename)
		if err == nil {
			entry := manifest.Entry{
				EntryTimestampISO: manifest.NewTimestampISO(time.Now()),
				CameraData: &manifest.CameraData{
					Filename:     frame.Filename,
					Filepath:     frame.Filepath,
					TimestampISO: manifest.NewTimestampISO(meta.CapturedAt),
					CameraIndex:  meta.CameraIndex,
				},
			}
			return frame, entry, nil
		}

		c.failureCount++
		log.Printf("[collector] camera capture failed (%d/%d): %v", c.failureCount, c.cfg.Retries.CollectorFailureLimit, err)
		if c.failureCount >= c.cfg.Retries.CollectorFailureLimit {
			return camera.Frame{}, manifest.Entry{}, fmt.Errorf("camera failure limit (%d) reached: %w", c.cfg.Retries.CollectorFailureLimit, err)
		}

		select {
		case <-ctx.Done():
			return camera.Frame{}, manifest.Entry{}, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// ringBufferCleanup implements spec.md §4.1/§4.4 step 4: list local
// image files by mtime ascending; candidates are the oldest such that
// file count exceeds IMAGE_BUFFER_SIZE. When Syncer is enabled, only
// synced candidates are deleted (unsynced ones are kept with a
// warning); when disabled, every candidate is deleted.
func (c *Collector) ringBufferCleanup() error {
	type fileInfo struct {
		path  string
		mtime time.Time
	}

	entries, err := os.ReadDir(c.cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("list data dir: %w", err)
	}

	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !isImageFilename(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(c.cfg.Paths.DataDir, name), mtime: info.ModTime()})
	}

	bufferSize := c.cfg.Buffer.ImageBufferSize
	if len(files) <= bufferSize {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	candidates := files[:len(files)-bufferSize]

	manifestEntries, err := manifest.Load(c.cfg.ManifestPath(), time.Now)
	if err != nil {
		return fmt.Errorf("load manifest for cleanup: %w", err)
	}
	syncedByPath := make(map[string]bool, len(manifestEntries))
	for _, e := range manifestEntries {
		if e.CameraData != nil {
			syncedByPath[e.CameraData.Filepath] = e.ImageSynced
		}
	}

	syncerEnabled := c.cfg.Services.EnableRemoteSync
	for _, f := range candidates {
		if syncerEnabled && !syncedByPath[f.path] {
			log.Printf("[collector] skipping eviction of unsynced image %s (image_synced=false)", f.path)
			continue
		}
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			log.Printf("[collector] failed to evict %s: %v", f.path, err)
		}
	}
	return nil
}

func isImageFilename(name string) bool {
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg", ".png", ".gz":
		return true
	default:
		return false
	}
}

// snapshotOnStartup copies the config TOML and ROI manifest JSON into
// the data directory under lock, per spec.md §4.4 step 6, so a running
// experiment stays reproducible even if the live config is later
// edited.
func (c *Collector) snapshotOnStartup() error {
	if err := os.MkdirAll(c.cfg.Paths.DataDir, 0o755); err != nil {
		return err
	}

	if err := lockfile.WithLock(c.cfg.ConfigSnapshotPath(), func() error {
		return copyIfExists(findConfigSource(), c.cfg.ConfigSnapshotPath())
	}); err != nil {
		return fmt.Errorf("snapshot config: %w", err)
	}

	if err := lockfile.WithLock(c.cfg.ROIManifestPath(), func() error {
		return copyIfExists(c.cfg.ROIManifestPath(), filepath.Join(c.cfg.Paths.DataDir, "roi_manifest_snapshot.json"))
	}); err != nil {
		return fmt.Errorf("snapshot ROI manifest: %w", err)
	}
	return nil
}

// findConfigSource locates the live config file phorest.toml next to
// the process, tolerating its absence (e.g. when config arrived purely
// via environment variables).
func findConfigSource() string {
	candidates := []string{"configs/phorest.toml", "phorest.toml"}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func copyIfExists(src, dst string) error {
	if src == "" {
		return nil
	}
	data, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// LoadROITable is a small convenience wrapper the Processor/Collector
// both use to parse the on-disk ROI manifest.
func LoadROITable(path string) (roigen.Table, error) {
	var data []byte
	err := lockfile.WithLock(path, func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		return roigen.Table{}, fmt.Errorf("read ROI manifest %s: %w", path, err)
	}
	var table roigen.Table
	if err := table.UnmarshalJSON(data); err != nil {
		return roigen.Table{}, fmt.Errorf("parse ROI manifest %s: %w", path, err)
	}
	return table, nil
}
