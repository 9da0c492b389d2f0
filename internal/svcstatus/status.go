// Package svcstatus implements the service-status file (C2 in
// spec.md): a locked JSON map of service name to its running status,
// PID, expected command name, and last heartbeat. Every service writes
// its own entry after every cycle; the health supervisor (C11) and the
// TUI only ever read it.
package svcstatus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"phorest/internal/lockfile"
)

// RunState is whether a service believes itself to be running or
// cleanly stopped. "Crashed"/"Hung" are not self-reported states; they
// are classifications the health supervisor derives from RunState,
// PID liveness, and heartbeat staleness.
type RunState string

const (
	StateRunning RunState = "running"
	StateStopped RunState = "stopped"
)

// Status is one service's entry in the status file.
type Status struct {
	RunState RunState `json:"status"`
	PID      *int     `json:"pid"`
	// Command is the expected process command name recorded at
	// startup, compared against the live process by the health
	// supervisor instead of assuming the binary is named after the
	// service (spec.md §9 open question).
	Command         string `json:"command"`
	LastHeartbeat   *string `json:"last_heartbeat"`
	ExpectedCadence int     `json:"expected_cadence_seconds"`
}

// Map is the full service-status file contents.
type Map map[string]Status

// Load reads the status file under lock. A missing file yields an
// empty map, not an error — the first service to start creates it.
func Load(path string) (Map, error) {
	var m Map
	err := lockfile.WithLock(path, func() error {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			m = Map{}
			return nil
		}
		if err != nil {
			return fmt.Errorf("svcstatus: read %s: %w", path, err)
		}
		if len(data) == 0 {
			m = Map{}
			return nil
		}
		return json.Unmarshal(data, &m)
	})
	return m, err
}

// Save atomically rewrites the whole status file under lock.
func Save(path string, m Map) error {
	return lockfile.WithLock(path, func() error {
		return saveLocked(path, m)
	})
}

func saveLocked(path string, m Map) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("svcstatus: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("svcstatus: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("svcstatus: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("svcstatus: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("svcstatus: rename temp file over %s: %w", path, err)
	}
	return nil
}

// Set updates (or inserts) one service's entry under a single lock
// acquisition covering the read-modify-write.
func Set(path, service string, s Status) error {
	return lockfile.WithLock(path, func() error {
		data, err := os.ReadFile(path)
		var m Map
		if os.IsNotExist(err) {
			m = Map{}
		} else if err != nil {
			return fmt.Errorf("svcstatus: read %s: %w", path, err)
		} else if len(data) == 0 {
			m = Map{}
		} else if err := json.Unmarshal(data, &m); err != nil {
			m = Map{}
		}
		m[service] = s
		return saveLocked(path, m)
	})
}

// Heartbeat is a convenience wrapper recording "running" with the
// current PID, expected command, and a fresh heartbeat timestamp. Every
// service calls this at the end of every cycle (spec.md §5).
func Heartbeat(path, service, command string, cadenceSeconds int, now time.Time) error {
	pid := os.Getpid()
	ts := now.UTC().Format(time.RFC3339)
	return Set(path, service, Status{
		RunState:        StateRunning,
		PID:             &pid,
		Command:         command,
		LastHeartbeat:   &ts,
		ExpectedCadence: cadenceSeconds,
	})
}

// Stopped records a clean shutdown for service, preserving its last
// known command/cadence for the health supervisor's records.
func Stopped(path, service string) error {
	return lockfile.WithLock(path, func() error {
		data, err := os.ReadFile(path)
		var m Map
		if os.IsNotExist(err) {
			m = Map{}
		} else if err != nil {
			return fmt.Errorf("svcstatus: read %s: %w", path, err)
		} else if len(data) == 0 {
			m = Map{}
		} else if err := json.Unmarshal(data, &m); err != nil {
			m = Map{}
		}
		existing := m[service]
		existing.RunState = StateStopped
		m[service] = existing
		return saveLocked(path, m)
	})
}
