// Package compressor implements the Compressor service (C8 in
// spec.md): gzips processed images whose compression has not yet been
// attempted, draining the whole backlog before sleeping.
package compressor

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"phorest/internal/config"
	"phorest/internal/manifest"
	"phorest/internal/svcstatus"
)

// State is the Compressor's cycle position (spec.md §4.7).
type State string

const (
	StateChecking    State = "CHECKING"
	StateCompressing State = "COMPRESSING"
)

type Compressor struct {
	cfg   *config.Config
	state State
}

func New(cfg *config.Config) *Compressor {
	return &Compressor{cfg: cfg, state: StateChecking}
}

// Run drives the cadence loop until ctx is cancelled.
func (c *Compressor) Run(ctx context.Context) error {
	interval := time.Duration(c.cfg.Timing.CompressInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := svcstatus.Stopped(c.cfg.StatusPath(), "compressor"); err != nil {
				log.Printf("[compressor] failed to record clean shutdown: %v", err)
			}
			return nil
		case <-ticker.C:
		}

		if err := c.drainBacklog(); err != nil {
			log.Printf("[compressor] cycle failed (retrying next cycle): %v", err)
		}

		if err := svcstatus.Heartbeat(c.cfg.StatusPath(), "compressor", "compressor", c.cfg.Timing.CompressInterval, time.Now()); err != nil {
			log.Printf("[compressor] failed to record heartbeat: %v", err)
		}
	}
}

// drainBacklog implements spec.md §4.7: "a single cycle processes the
// whole current batch, then re-enters CHECKING to drain a backlog
// before sleeping" — it loops Checking/Compressing until one pass
// matches zero entries.
func (c *Compressor) drainBacklog() error {
	for {
		c.state = StateChecking
		matched, err := c.compressOneBatch()
		if err != nil {
			return err
		}
		if matched == 0 {
			c.state = StateChecking
			return nil
		}
		c.state = StateCompressing
	}
}

// compressOneBatch runs one pass of spec.md §4.7's work predicate and
// gzip-then-rewrite-filename behavior, returning how many entries
// matched (so the caller knows whether to loop again).
func (c *Compressor) compressOneBatch() (int, error) {
	entries, err := manifest.Load(c.cfg.ManifestPath(), time.Now)
	if err != nil {
		return 0, err
	}

	var matchedIdx []int
	for i, e := range entries {
		if matchesWorkPredicate(e) {
			matchedIdx = append(matchedIdx, i)
		}
	}
	if len(matchedIdx) == 0 {
		return 0, nil
	}

	var newFilenames []string
	var newFilepaths []string
	var attempted []bool
	for _, idx := range matchedIdx {
		e := entries[idx]
		newName, newPath, err := compressFile(e.CameraData.Filepath)
		if err != nil {
			log.Printf("[compressor] failed to compress %s: %v", e.CameraData.Filepath, err)
			// Leave the filename/path as-is on failure (spec.md §4.7:
			// "new filename... null on failure") — the mutator has no
			// concept of "leave unchanged" for a broadcast null, so it is
			// simplest to resubmit the existing values.
			newFilenames = append(newFilenames, e.CameraData.Filename)
			newFilepaths = append(newFilepaths, e.CameraData.Filepath)
			attempted = append(attempted, true) // attempted, even though it failed; spec records the attempt
			continue
		}
		newFilenames = append(newFilenames, newName)
		newFilepaths = append(newFilepaths, newPath)
		attempted = append(attempted, true)
	}

	err = manifest.Update(c.cfg.ManifestPath(), matchedIdx, []manifest.FieldUpdate{
		{Field: "compression_attempted", Value: attempted},
		{Field: "new_filename", Value: newFilenames},
		{Field: "new_filepath", Value: newFilepaths},
	}, time.Now)
	if err != nil {
		return 0, err
	}
	return len(matchedIdx), nil
}

func matchesWorkPredicate(e manifest.Entry) bool {
	if e.ProcessingStatus != manifest.StatusProcessed {
		return false
	}
	if e.CompressionAttempted {
		return false
	}
	if e.CameraData == nil {
		return false
	}
	if strings.HasSuffix(e.CameraData.Filename, ".gz") {
		return false
	}
	if _, err := os.Stat(e.CameraData.Filepath); err != nil {
		return false
	}
	return true
}

// compressFile gzips path to path+".gz" and removes the original,
// returning the new filename (basename only, matching the manifest's
// CameraData.Filename convention) and its full path.
func compressFile(path string) (filename, fullPath string, err error) {
	in, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("compressor: open %s: %w", path, err)
	}
	defer in.Close()

	outPath := path + ".gz"
	out, err := os.Create(outPath)
	if err != nil {
		return "", "", fmt.Errorf("compressor: create %s: %w", outPath, err)
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(outPath)
		return "", "", fmt.Errorf("compressor: gzip %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", "", fmt.Errorf("compressor: close gzip writer: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", "", fmt.Errorf("compressor: sync %s: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", "", fmt.Errorf("compressor: close %s: %w", outPath, err)
	}
	in.Close()

	if err := os.Remove(path); err != nil {
		return "", "", fmt.Errorf("compressor: remove original %s: %w", path, err)
	}

	base := outPath
	if idx := strings.LastIndexByte(outPath, '/'); idx >= 0 {
		base = outPath[idx+1:]
	}
	return base, outPath, nil
}
