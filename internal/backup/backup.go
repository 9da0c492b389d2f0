// Package backup implements the Backup service (C9 in spec.md):
// archives a fixed list of shared files into BACKUP_DIR via atomic
// rename, then compresses the backup tree.
package backup

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"phorest/internal/config"
	"phorest/internal/lockfile"
	"phorest/internal/svcstatus"
)

// State is the Backup service's phase (spec.md §4.8).
type State string

const (
	StateArchiving   State = "ARCHIVING"
	StateCompressing State = "COMPRESSING"
)

type Backup struct {
	cfg   *config.Config
	state State
	now   func() time.Time
}

func New(cfg *config.Config) *Backup {
	return &Backup{cfg: cfg, now: time.Now}
}

// Run drives the cadence loop until ctx is cancelled.
func (b *Backup) Run(ctx context.Context) error {
	interval := time.Duration(b.cfg.Timing.FileBackupInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := svcstatus.Stopped(b.cfg.StatusPath(), "backup"); err != nil {
				log.Printf("[backup] failed to record clean shutdown: %v", err)
			}
			return nil
		case <-ticker.C:
		}

		if err := b.runCycle(); err != nil {
			log.Printf("[backup] cycle failed (retrying next cycle): %v", err)
		}

		if err := svcstatus.Heartbeat(b.cfg.StatusPath(), "backup", "backup", b.cfg.Timing.FileBackupInterval, time.Now()); err != nil {
			log.Printf("[backup] failed to record heartbeat: %v", err)
		}
	}
}

// sourceFiles lists the fixed archival set of spec.md §4.8: config
// snapshot, ROI manifest, main manifest, results JSONL, CSV, plot.
func (b *Backup) sourceFiles() []string {
	return []string{
		b.cfg.ConfigSnapshotPath(),
		b.cfg.ROIManifestPath(),
		b.cfg.ManifestPath(),
		b.cfg.ResultsLogPath(),
		b.cfg.CSVPath(),
		b.cfg.PlotPath(),
	}
}

func (b *Backup) runCycle() error {
	b.state = StateArchiving
	if err := b.archive(); err != nil {
		return fmt.Errorf("archive phase: %w", err)
	}
	b.state = StateCompressing
	if err := b.compressTree(); err != nil {
		return fmt.Errorf("compress phase: %w", err)
	}
	return nil
}

// archive implements spec.md §4.8 phase 1: atomically move each source
// file (under its lock) to BACKUP_DIR/<parent.name>/<stem>_<ts><suffix>,
// skipping missing files with a warning.
func (b *Backup) archive() error {
	ts := b.now().UTC().Format("20060102_150405")
	for _, src := range b.sourceFiles() {
		if src == "" {
			continue
		}
		err := lockfile.WithLock(src, func() error {
			if _, statErr := os.Stat(src); os.IsNotExist(statErr) {
				log.Printf("[backup] skipping missing file %s", src)
				return nil
			}

			parent := filepath.Base(filepath.Dir(src))
			base := filepath.Base(src)
			ext := filepath.Ext(base)
			stem := base[:len(base)-len(ext)]
			destDir := filepath.Join(b.cfg.Paths.BackupDir, parent)
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return fmt.Errorf("create backup dir %s: %w", destDir, err)
			}
			dest := filepath.Join(destDir, fmt.Sprintf("%s_%s%s", stem, ts, ext))
			return os.Rename(src, dest)
		})
		if err != nil {
			return fmt.Errorf("archive %s: %w", src, err)
		}
	}
	return nil
}

// compressTree implements spec.md §4.8 phase 2: walk BACKUP_DIR and
// gzip every file whose suffix is not .gz, deleting the original on
// success.
func (b *Backup) compressTree() error {
	return filepath.WalkDir(b.cfg.Paths.BackupDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".lock") {
			return nil
		}
		if err := gzipFile(path); err != nil {
			log.Printf("[backup] failed to compress %s: %v", path, err)
		}
		return nil
	})
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	outPath := path + ".gz"
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(outPath)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(outPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return err
	}
	in.Close()

	return os.Remove(path)
}
