// Package resultslog implements the append-only JSON-Lines results log
// (spec.md §3 "Results log"): one line per processed manifest entry,
// enriched with image_analysis and/or temperature_readings. Lines are
// immutable once written, so Append is a line-append under lock, never
// a full-file rewrite.
package resultslog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"phorest/internal/lockfile"
	"phorest/internal/manifest"
)

// Record is one results-log line: a manifest entry enriched with the
// per-ROI analysis output and/or temperature readings, keyed by
// EntryID for append-if-absent idempotency across Processor restarts
// (the §9 open-question resolution — see DESIGN.md).
type Record struct {
	EntryID                string                   `json:"entry_id"`
	EntryTimestampISO      string                   `json:"entry_timestamp_iso"`
	ProcessingTimestampISO string                   `json:"processing_timestamp_iso"`
	ImageAnalysis          []map[string]any         `json:"image_analysis,omitempty"`
	TemperatureReadings    *manifest.TemperatureData `json:"temperature_readings,omitempty"`
}

// Append appends one record as a single JSON line under the results
// log's lock, silently skipping (no error) if a record with the
// same EntryID is already present — this is what makes Processor
// crash-resume idempotent (spec.md §9 decision).
func Append(path string, rec Record) error {
	return lockfile.WithLock(path, func() error {
		exists, err := containsEntryIDLocked(path, rec.EntryID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("resultslog: open %s: %w", path, err)
		}
		defer f.Close()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("resultslog: marshal: %w", err)
		}
		data = append(data, '\n')
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("resultslog: write: %w", err)
		}
		return nil
	})
}

// Contains reports whether the results log already holds a record with
// the given entry ID, taking the lock itself.
func Contains(path, entryID string) (bool, error) {
	var found bool
	err := lockfile.WithLock(path, func() error {
		var err error
		found, err = containsEntryIDLocked(path, entryID)
		return err
	})
	return found, err
}

func containsEntryIDLocked(path, entryID string) (bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resultslog: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Results grow large over weeks of unattended operation.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)
	for scanner.Scan() {
		var probe struct {
			EntryID string `json:"entry_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &probe); err != nil {
			continue
		}
		if probe.EntryID == entryID {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// ReadAll loads every record in the results log, taking the lock for
// the duration of the read. Used by the Communicator to build the CSV.
func ReadAll(path string) ([]Record, error) {
	var records []Record
	err := lockfile.WithLock(path, func() error {
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			records = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("resultslog: open %s: %w", path, err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 8*1024*1024)
		for scanner.Scan() {
			var rec Record
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return scanner.Err()
	})
	return records, err
}
