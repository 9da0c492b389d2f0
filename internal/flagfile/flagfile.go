// Package flagfile implements the zero-byte sentinel flag files that
// signal "stage output ready" between pipeline services (spec.md §6):
// created by touch, consumed by unlink.
package flagfile

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Touch creates the flag file at path if it does not already exist.
// Touching an already-present flag is a no-op, matching the "presence
// is the signal" semantics (no counting, no queue).
func Touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return err
	}
	return f.Close()
}

// ConsumeIfPresent atomically checks for and removes the flag file,
// reporting whether it was present. This is the "consumed atomically
// by unlink before work begins" step of spec.md §4.5.
func ConsumeIfPresent(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Present reports whether the flag file currently exists, without
// consuming it.
func Present(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WaitForCreate blocks until the flag file at path is created, ctx-less
// timeout-free poll fallback is handled by the caller's own ticker;
// this is the opt-in low-latency path via fsnotify (domain-stack table
// in SPEC_FULL.md) that a service may use instead of pure polling. It
// returns promptly once the file exists, or after pollFallback elapses
// so the caller's own polling loop remains the source of truth.
func WaitForCreate(path string, pollFallback time.Duration) {
	if Present(path) {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// fsnotify unavailable (e.g. inotify watch limit) — degrade to
		// pure polling by the caller; nothing to wait for here.
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return
	}

	timeout := time.NewTimer(pollFallback)
	defer timeout.Stop()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name == path && (ev.Op&fsnotify.Create == fsnotify.Create) {
				return
			}
		case <-watcher.Errors:
			return
		case <-timeout.C:
			return
		}
	}
}
