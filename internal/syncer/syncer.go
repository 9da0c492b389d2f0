// Package syncer implements the Syncer service (C10 in spec.md): three
// ordered tasks that push archives, live state, and processed images
// out to REMOTE_ROOT_DIR.
package syncer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"phorest/internal/config"
	"phorest/internal/lockfile"
	"phorest/internal/manifest"
	"phorest/internal/svcstatus"
)

type Syncer struct {
	cfg    *config.Config
	client *retryablehttp.Client
}

func New(cfg *config.Config) *Syncer {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Syncer{cfg: cfg, client: client}
}

// Run drives the cadence loop until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Timing.SyncInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := svcstatus.Stopped(s.cfg.StatusPath(), "syncer"); err != nil {
				log.Printf("[syncer] failed to record clean shutdown: %v", err)
			}
			return nil
		case <-ticker.C:
		}

		if err := s.runCycle(); err != nil {
			log.Printf("[syncer] cycle failed (retrying next cycle): %v", err)
		}

		if err := svcstatus.Heartbeat(s.cfg.StatusPath(), "syncer", "syncer", s.cfg.Timing.SyncInterval, time.Now()); err != nil {
			log.Printf("[syncer] failed to record heartbeat: %v", err)
		}
	}
}

// runCycle implements spec.md §4.9's three ordered tasks, then fires
// the optional post-sync notification.
func (s *Syncer) runCycle() error {
	if err := s.syncArchives(); err != nil {
		return fmt.Errorf("archives task: %w", err)
	}
	if err := s.syncLiveState(); err != nil {
		return fmt.Errorf("live state task: %w", err)
	}
	if err := s.syncProcessedImages(); err != nil {
		return fmt.Errorf("processed images task: %w", err)
	}
	s.notifyRemote()
	return nil
}

// syncArchives moves every regular file under BACKUP_DIR to
// REMOTE_ROOT_DIR/<backup.name>/ (spec.md §4.9 task 1 — archives are
// moved, freeing local disk).
func (s *Syncer) syncArchives() error {
	backupDir := s.cfg.Paths.BackupDir
	destBase := filepath.Join(s.cfg.Paths.RemoteRootDir, filepath.Base(backupDir))

	return filepath.WalkDir(backupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(backupDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(destBase, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return lockfile.WithLock(path, func() error {
			return os.Rename(path, dest)
		})
	})
}

// syncLiveState copies every file in RESULTS_DIR (excluding .lock and
// .tmp) and the manifest to REMOTE_ROOT_DIR, under lock (spec.md §4.9
// task 2 — live state is copied, keeping it authoritative locally).
func (s *Syncer) syncLiveState() error {
	if err := os.MkdirAll(s.cfg.Paths.RemoteRootDir, 0o755); err != nil {
		return err
	}

	resultsDir := s.cfg.Paths.ResultsDir
	destResults := filepath.Join(s.cfg.Paths.RemoteRootDir, filepath.Base(resultsDir))
	if err := os.MkdirAll(destResults, 0o755); err != nil {
		return err
	}

	entries, err := os.ReadDir(resultsDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		src := filepath.Join(resultsDir, name)
		dest := filepath.Join(destResults, name)
		if err := lockfile.WithLock(src, func() error {
			return copyFile(src, dest)
		}); err != nil {
			log.Printf("[syncer] failed to copy %s: %v", src, err)
		}
	}

	dataDir := filepath.Join(s.cfg.Paths.RemoteRootDir, filepath.Base(s.cfg.Paths.DataDir))
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	manifestDest := filepath.Join(dataDir, filepath.Base(s.cfg.ManifestPath()))
	return lockfile.WithLock(s.cfg.ManifestPath(), func() error {
		return copyFile(s.cfg.ManifestPath(), manifestDest)
	})
}

// syncProcessedImages moves newly-processed, unsynced images to
// REMOTE_ROOT_DIR/<data.name>/, then batch-updates the manifest for
// the files that moved successfully (spec.md §4.9 task 3).
func (s *Syncer) syncProcessedImages() error {
	entries, err := manifest.Load(s.cfg.ManifestPath(), time.Now)
	if err != nil {
		return err
	}

	destDir := filepath.Join(s.cfg.Paths.RemoteRootDir, filepath.Base(s.cfg.Paths.DataDir))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	var movedIdx []int
	var newPaths []string
	for i, e := range entries {
		if e.ProcessingStatus != manifest.StatusProcessed || e.ImageSynced || e.CameraData == nil {
			continue
		}
		src := e.CameraData.Filepath
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dest := filepath.Join(destDir, filepath.Base(src))
		if err := os.Rename(src, dest); err != nil {
			log.Printf("[syncer] failed to move %s: %v", src, err)
			continue
		}
		movedIdx = append(movedIdx, i)
		newPaths = append(newPaths, dest)
	}
	if len(movedIdx) == 0 {
		return nil
	}

	synced := make([]bool, len(movedIdx))
	for i := range synced {
		synced[i] = true
	}
	return manifest.Update(s.cfg.ManifestPath(), movedIdx, []manifest.FieldUpdate{
		{Field: "image_synced", Value: synced},
		{Field: "new_filepath", Value: newPaths},
	}, time.Now)
}

// notifyRemote pings the optional RemoteNotifyURL after a successful
// sync cycle. Purely additive (SPEC_FULL.md domain stack): off when
// the URL is empty, never required for correctness.
func (s *Syncer) notifyRemote() {
	if s.cfg.RemoteNotifyURL == "" {
		return
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, s.cfg.RemoteNotifyURL, bytes.NewReader([]byte(`{"event":"sync_complete"}`)))
	if err != nil {
		log.Printf("[syncer] failed to build notify request: %v", err)
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[syncer] remote notify failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Printf("[syncer] remote notify returned status %d", resp.StatusCode)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
