// Package manifest implements the shared, locked, atomically-replaced
// JSON-array manifest (C1 in spec.md) that is the single coordination
// point of the pipeline. Every read or write goes through Load, Save,
// or Update, each of which acquires the manifest's lock for the
// minimum span covering its critical section.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"phorest/internal/lockfile"
)

// ProcessingStatus is the monotone processing state of one entry.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusProcessed ProcessingStatus = "processed"
	StatusFailed    ProcessingStatus = "failed"
)

// CameraData is the capture-side payload of one entry, or nil if the
// camera is disabled or the capture failed before a frame existed.
type CameraData struct {
	Filename     string `json:"filename"`
	Filepath     string `json:"filepath"`
	TimestampISO string `json:"timestamp_iso"`
	CameraIndex  int    `json:"camera_index"`
	ErrorFlag    bool   `json:"error_flag"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// TemperatureData is the thermocouple-side payload of one entry, or nil
// if temperature collection is disabled.
type TemperatureData struct {
	TimestampISO string             `json:"timestamp_iso"`
	Data         map[string]float64 `json:"data"`
	ErrorFlag    bool               `json:"error_flag"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// Entry is one manifest element: one captured frame (and optionally one
// temperature reading) and its lifecycle flags. Order in the manifest
// array is insertion order and is never reshuffled. Ring-buffer
// eviction in package collector does not use this order: it ranks
// image files by mtime.
type Entry struct {
	EntryTimestampISO  string `json:"entry_timestamp_iso"`
	CollectionError    bool   `json:"collection_error"`
	CollectionErrorMsg string `json:"collection_error_msg,omitempty"`

	CameraData      *CameraData      `json:"camera_data"`
	TemperatureData *TemperatureData `json:"temperature_data"`

	ProcessingStatus        ProcessingStatus `json:"processing_status"`
	ProcessingTimestampISO  string           `json:"processing_timestamp_iso,omitempty"`
	ProcessingError         bool             `json:"processing_error"`
	ProcessingErrorMsg      string           `json:"processing_error_msg,omitempty"`

	CompressionAttempted bool `json:"compression_attempted"`
	DataTransmitted      bool `json:"data_transmitted"`
	ImageSynced          bool `json:"image_synced"`
}

// ErrCorrupt describes a manifest on disk that failed to parse as JSON.
// No function in this package returns it: Load renames a corrupt file
// aside and returns an empty list instead.
var ErrCorrupt = errors.New("manifest: corrupt JSON, renamed aside")

// Load acquires the manifest lock, reads and parses the JSON array at
// path. A decode failure renames the corrupt file to
// "<stem>.corrupt_<ts><suffix>" and returns an empty list rather than
// propagating the error — this is the crash-safety contract of
// spec.md §7 taxonomy item 7. now is injected so tests can supply a
// deterministic timestamp.
func Load(path string, now func() time.Time) ([]Entry, error) {
	var entries []Entry
	err := lockfile.WithLock(path, func() error {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			entries = []Entry{}
			return nil
		}
		if err != nil {
			return fmt.Errorf("manifest: read %s: %w", path, err)
		}

		if len(data) == 0 {
			entries = []Entry{}
			return nil
		}

		if jsonErr := json.Unmarshal(data, &entries); jsonErr != nil {
			corruptPath := corruptName(path, now())
			if renameErr := os.Rename(path, corruptPath); renameErr != nil {
				return fmt.Errorf("manifest: corrupt file %s could not be renamed aside: %w", path, renameErr)
			}
			log.Printf("[manifest] %s was corrupt JSON (%v); moved to %s, continuing with an empty manifest", path, jsonErr, corruptPath)
			entries = []Entry{}
			return nil
		}
		return nil
	})
	return entries, err
}

func corruptName(path string, ts time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	stamp := ts.UTC().Format("20060102T150405")
	return filepath.Join(dir, fmt.Sprintf("%s.corrupt_%s%s", stem, stamp, ext))
}

// Save writes entries to path under lock via write-to-temp-then-rename,
// so readers always observe either the previous complete manifest or
// the new complete one, never a partial write.
func Save(path string, entries []Entry) error {
	return lockfile.WithLock(path, func() error {
		return saveLocked(path, entries)
	})
}

// saveLocked performs the atomic write assuming the caller already
// holds the lock for path (used by Update, which reads and writes
// within a single critical section).
func saveLocked(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("manifest: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: rename temp file over %s: %w", path, err)
	}
	return nil
}

// Append loads, appends one entry, and saves — the whole read-modify-
// write is one critical section so a concurrent Update cannot observe
// a half-appended manifest.
func Append(path string, entry Entry, now func() time.Time) error {
	return lockfile.WithLock(path, func() error {
		entries, err := readLocked(path, now)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return saveLocked(path, entries)
	})
}

func readLocked(path string, now func() time.Time) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return []Entry{}, nil
	}
	var entries []Entry
	if jsonErr := json.Unmarshal(data, &entries); jsonErr != nil {
		corruptPath := corruptName(path, now())
		if renameErr := os.Rename(path, corruptPath); renameErr != nil {
			return nil, fmt.Errorf("manifest: corrupt file %s could not be renamed aside: %w", path, renameErr)
		}
		log.Printf("[manifest] %s was corrupt JSON (%v); moved to %s, continuing with an empty manifest", path, jsonErr, corruptPath)
		return []Entry{}, nil
	}
	return entries, nil
}

// FieldUpdate describes one field's new value(s) for an Update call.
// Value is either a single value broadcast to every targeted index, or
// a slice of the same length as indices (per-index assignment). A
// slice of any other length causes the whole field to be skipped, for
// every index, with a logged warning.
type FieldUpdate struct {
	Field string
	Value any
}

// Mutator applies one field update to one entry in place. Returns false
// if the value could not be applied (logged by the caller as a skip).
type Mutator func(e *Entry, value any) bool

var mutators = map[string]Mutator{
	"processing_status": func(e *Entry, v any) bool {
		s, ok := v.(ProcessingStatus)
		if !ok {
			sv, ok2 := v.(string)
			if !ok2 {
				return false
			}
			s = ProcessingStatus(sv)
		}
		e.ProcessingStatus = s
		return true
	},
	"processing_timestamp_iso": func(e *Entry, v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		e.ProcessingTimestampISO = s
		return true
	},
	"processing_error": func(e *Entry, v any) bool {
		b, ok := v.(bool)
		if !ok {
			return false
		}
		e.ProcessingError = b
		return true
	},
	"processing_error_msg": func(e *Entry, v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		e.ProcessingErrorMsg = s
		return true
	},
	"compression_attempted": func(e *Entry, v any) bool {
		b, ok := v.(bool)
		if !ok {
			return false
		}
		e.CompressionAttempted = b
		return true
	},
	"new_filename": func(e *Entry, v any) bool {
		s, ok := v.(string)
		if !ok || e.CameraData == nil {
			return false
		}
		e.CameraData.Filename = s
		return true
	},
	"new_filepath": func(e *Entry, v any) bool {
		s, ok := v.(string)
		if !ok || e.CameraData == nil {
			return false
		}
		e.CameraData.Filepath = s
		return true
	},
	"data_transmitted": func(e *Entry, v any) bool {
		b, ok := v.(bool)
		if !ok {
			return false
		}
		e.DataTransmitted = b
		return true
	},
	"image_synced": func(e *Entry, v any) bool {
		b, ok := v.(bool)
		if !ok {
			return false
		}
		e.ImageSynced = b
		return true
	},
}

// Update loads the manifest, applies field updates at the given
// indices, and saves, all within one lock acquisition. Each update's
// Value is either a scalar (broadcast to every index) or a slice of
// len(indices) (assigned per-index). Unknown indices (the manifest may
// have been rotated under us by Backup) are ignored with a warning;
// length-mismatched per-index slices skip that field for every index
// with a warning. This makes Update safe to call against a manifest
// that shifted size since the caller last read it.
func Update(path string, indices []int, updates []FieldUpdate, now func() time.Time) error {
	return lockfile.WithLock(path, func() error {
		entries, err := readLocked(path, now)
		if err != nil {
			return err
		}

		for _, u := range updates {
			mutate, known := mutators[u.Field]
			if !known {
				log.Printf("[manifest] update: unknown field %q ignored", u.Field)
				continue
			}

			perIndex, isSlice := asPerIndexSlice(u.Value, len(indices))
			if isSlice && perIndex == nil {
				log.Printf("[manifest] update: field %q has a per-index value list of length != %d indices; skipping this field entirely", u.Field, len(indices))
				continue
			}

			for i, idx := range indices {
				if idx < 0 || idx >= len(entries) {
					log.Printf("[manifest] update: index %d is out of range for a manifest of %d entries; skipped (likely rotated by backup)", idx, len(entries))
					continue
				}
				val := u.Value
				if isSlice {
					val = perIndex[i]
				}
				if !mutate(&entries[idx], val) {
					log.Printf("[manifest] update: could not apply field %q at index %d", u.Field, idx)
				}
			}
		}

		return saveLocked(path, entries)
	})
}

// asPerIndexSlice reports whether value is a per-index slice (any kind
// of []T) and, if so, returns it as []any together with a length check
// against want. If value is not a slice at all, ok is false, meaning
// "treat as scalar broadcast".
func asPerIndexSlice(value any, want int) (out []any, ok bool) {
	switch v := value.(type) {
	case []string:
		if len(v) != want {
			return nil, true
		}
		out = make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []bool:
		if len(v) != want {
			return nil, true
		}
		out = make([]any, len(v))
		for i, b := range v {
			out[i] = b
		}
		return out, true
	case []ProcessingStatus:
		if len(v) != want {
			return nil, true
		}
		out = make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// IndicesWithStatus returns the indices of every entry whose processing
// status matches status, in manifest order.
func IndicesWithStatus(entries []Entry, status ProcessingStatus) []int {
	var idx []int
	for i, e := range entries {
		if e.ProcessingStatus == status {
			idx = append(idx, i)
		}
	}
	return idx
}

// EntryID is the idempotency key used by the results log: the entry's
// own creation timestamp, which is unique and stable across manifest
// rotation and crash-restart.
func EntryID(e Entry) string {
	return e.EntryTimestampISO
}

// NewTimestampISO returns an RFC3339Nano timestamp suitable for
// EntryTimestampISO and the other *_iso fields.
func NewTimestampISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseIndexList is a small helper used by services that accumulate
// indices as strings (e.g. from a set) before calling Update.
func ParseIndexList(ss []string) ([]int, error) {
	out := make([]int, 0, len(ss))
	for _, s := range ss {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("manifest: invalid index %q: %w", s, err)
		}
		out = append(out, n)
	}
	return out, nil
}
