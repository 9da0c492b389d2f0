// Package lockfile implements the advisory, blocking, exclusive locking
// discipline spec.md §4.1 requires of every shared file: the manifest,
// the results log, the status file, the CSV/plot outputs, the ROI
// manifest, and the config snapshot all take their sibling ".lock" file
// before any read or write.
package lockfile

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Path returns the sibling lock file path for target, e.g.
// "/data/metadata_manifest.json" -> "/data/metadata_manifest.json.lock".
func Path(target string) string {
	return target + ".lock"
}

// WithLock acquires a blocking exclusive lock on target's sibling
// ".lock" file, runs fn, and always releases the lock afterwards —
// on every exit path, including a panic unwinding through fn.
func WithLock(target string, fn func() error) error {
	fl := flock.New(Path(target))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lockfile: acquire lock for %s: %w", target, err)
	}
	defer fl.Unlock() //nolint:errcheck

	return fn()
}
