package svcstatus

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline_status.json")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, Heartbeat(path, "collector", "collector", 60, now))

	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StateRunning, m["collector"].RunState)
	require.Equal(t, "collector", m["collector"].Command)
	require.Equal(t, 60, m["collector"].ExpectedCadence)
	require.NotNil(t, m["collector"].LastHeartbeat)
}

func TestStoppedPreservesCommandAndCadence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline_status.json")
	require.NoError(t, Heartbeat(path, "processor", "processor", 30, time.Now()))

	require.NoError(t, Stopped(path, "processor"))

	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StateStopped, m["processor"].RunState)
	require.Equal(t, "processor", m["processor"].Command)
	require.Equal(t, 30, m["processor"].ExpectedCadence)
}

func TestLoadOnMissingFileReturnsEmptyMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never_written.json")
	m, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestSetUpdatesOneServiceWithoutDisturbingOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline_status.json")
	require.NoError(t, Heartbeat(path, "collector", "collector", 60, time.Now()))
	require.NoError(t, Heartbeat(path, "processor", "processor", 30, time.Now()))

	require.NoError(t, Stopped(path, "collector"))

	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StateStopped, m["collector"].RunState)
	require.Equal(t, StateRunning, m["processor"].RunState)
}
