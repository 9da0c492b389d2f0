package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phorest/internal/camera"
	"phorest/internal/config"
	"phorest/internal/manifest"
)

func testConfig(t *testing.T, dataDir, resultsDir string) *config.Config {
	t.Helper()
	return &config.Config{
		Paths: config.PathsConfig{
			DataDir:    dataDir,
			ResultsDir: resultsDir,
			FlagDir:    dataDir,
		},
		Timing:  config.TimingConfig{CollectorInterval: 1, CollectorRetryDelay: 1},
		Retries: config.RetriesConfig{CollectorFailureLimit: 3},
		Buffer:  config.BufferConfig{ImageBufferSize: 500},
	}
}

func TestRunCycleAppendsOneEntryAndTouchesFlag(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	cfg := testConfig(t, dataDir, resultsDir)

	c := New(cfg, camera.NewDummyDriver(0), nil)
	require.NoError(t, c.runCycle(context.Background()))

	entries, err := manifest.Load(cfg.ManifestPath(), time.Now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, manifest.StatusPending, entries[0].ProcessingStatus)
	require.True(t, fileExists(cfg.DataReadyFlagPath()))
}

type alwaysFailDriver struct{}

func (alwaysFailDriver) AcquireFrame(ctx context.Context, outDir, filename string) (camera.Frame, camera.Metadata, error) {
	return camera.Frame{}, camera.Metadata{}, os.ErrPermission
}
func (alwaysFailDriver) Close() error { return nil }

func TestRunCycleReturnsErrorAtFailureLimit(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	cfg := testConfig(t, dataDir, resultsDir)
	cfg.Retries.CollectorFailureLimit = 2
	cfg.Timing.CollectorRetryDelay = 0

	c := New(cfg, alwaysFailDriver{}, nil)
	err := c.runCycle(context.Background())
	require.Error(t, err)
}

func TestRingBufferCleanupDeletesOldestWhenSyncerDisabled(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	cfg := testConfig(t, dataDir, resultsDir)
	cfg.Buffer.ImageBufferSize = 1
	cfg.Services.EnableRemoteSync = false

	old := filepath.Join(dataDir, "old.jpg")
	newer := filepath.Join(dataDir, "new.jpg")
	require.NoError(t, os.WriteFile(old, []byte("a"), 0o644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(newer, []byte("b"), 0o644))

	c := New(cfg, camera.NewDummyDriver(0), nil)
	require.NoError(t, c.ringBufferCleanup())

	require.False(t, fileExists(old))
	require.True(t, fileExists(newer))
}

func TestRingBufferCleanupSkipsUnsyncedWhenSyncerEnabled(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	cfg := testConfig(t, dataDir, resultsDir)
	cfg.Buffer.ImageBufferSize = 0
	cfg.Services.EnableRemoteSync = true

	unsynced := filepath.Join(dataDir, "unsynced.jpg")
	require.NoError(t, os.WriteFile(unsynced, []byte("a"), 0o644))

	require.NoError(t, manifest.Append(cfg.ManifestPath(), manifest.Entry{
		EntryTimestampISO: "t1",
		CameraData:        &manifest.CameraData{Filepath: unsynced},
		ImageSynced:       false,
	}, time.Now))

	c := New(cfg, camera.NewDummyDriver(0), nil)
	require.NoError(t, c.ringBufferCleanup())

	require.True(t, fileExists(unsynced))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
