package syncer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phorest/internal/config"
	"phorest/internal/manifest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{Paths: config.PathsConfig{
		DataDir:       t.TempDir(),
		ResultsDir:    t.TempDir(),
		BackupDir:     t.TempDir(),
		RemoteRootDir: t.TempDir(),
	}}
}

func TestSyncArchivesMovesFilesPreservingRelativeLayout(t *testing.T) {
	cfg := testConfig(t)
	sub := filepath.Join(cfg.Paths.BackupDir, "data")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "img.jpg.gz"), []byte("x"), 0o644))

	s := New(cfg)
	require.NoError(t, s.syncArchives())

	dest := filepath.Join(cfg.Paths.RemoteRootDir, filepath.Base(cfg.Paths.BackupDir), "data", "img.jpg.gz")
	require.FileExists(t, dest)
	require.NoFileExists(t, filepath.Join(sub, "img.jpg.gz"))
}

func TestSyncLiveStateCopiesResultsAndManifestWithoutRemovingLocal(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.ResultsDir, "processing_results.jsonl"), []byte(`{"a":1}`), 0o644))
	require.NoError(t, os.WriteFile(cfg.ManifestPath(), []byte("[]"), 0o644))

	s := New(cfg)
	require.NoError(t, s.syncLiveState())

	require.FileExists(t, filepath.Join(cfg.Paths.RemoteRootDir, filepath.Base(cfg.Paths.ResultsDir), "processing_results.jsonl"))
	require.FileExists(t, filepath.Join(cfg.Paths.ResultsDir, "processing_results.jsonl"))
	require.FileExists(t, filepath.Join(cfg.Paths.RemoteRootDir, filepath.Base(cfg.Paths.DataDir), filepath.Base(cfg.ManifestPath())))
	require.FileExists(t, cfg.ManifestPath())
}

func TestSyncProcessedImagesMovesOnlyProcessedUnsyncedExistingFiles(t *testing.T) {
	cfg := testConfig(t)

	synced := filepath.Join(cfg.Paths.DataDir, "synced.jpg")
	pending := filepath.Join(cfg.Paths.DataDir, "pending.jpg")
	require.NoError(t, os.WriteFile(synced, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(pending, []byte("b"), 0o644))

	require.NoError(t, manifest.Append(cfg.ManifestPath(), manifest.Entry{
		EntryTimestampISO: "t1",
		CameraData:        &manifest.CameraData{Filename: "synced.jpg", Filepath: synced},
		ProcessingStatus:  manifest.StatusProcessed,
		ImageSynced:       true,
	}, time.Now))
	require.NoError(t, manifest.Append(cfg.ManifestPath(), manifest.Entry{
		EntryTimestampISO: "t2",
		CameraData:        &manifest.CameraData{Filename: "pending.jpg", Filepath: pending},
		ProcessingStatus:  manifest.StatusProcessed,
		ImageSynced:       false,
	}, time.Now))
	require.NoError(t, manifest.Append(cfg.ManifestPath(), manifest.Entry{
		EntryTimestampISO: "t3",
		CameraData:        &manifest.CameraData{Filename: "missing.jpg", Filepath: filepath.Join(cfg.Paths.DataDir, "missing.jpg")},
		ProcessingStatus:  manifest.StatusProcessed,
		ImageSynced:       false,
	}, time.Now))

	s := New(cfg)
	require.NoError(t, s.syncProcessedImages())

	destDir := filepath.Join(cfg.Paths.RemoteRootDir, filepath.Base(cfg.Paths.DataDir))
	require.NoFileExists(t, pending)
	require.FileExists(t, filepath.Join(destDir, "pending.jpg"))
	require.FileExists(t, synced) // already-synced entries are left alone

	entries, err := manifest.Load(cfg.ManifestPath(), time.Now)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		if e.CameraData.Filename == "pending.jpg" {
			require.True(t, e.ImageSynced)
			require.Equal(t, filepath.Join(destDir, "pending.jpg"), e.CameraData.Filepath)
		}
		if e.CameraData.Filename == "missing.jpg" {
			require.False(t, e.ImageSynced) // missing source file is skipped, not marked synced
		}
	}
}

func TestNotifyRemoteNoopWhenURLEmpty(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg)
	// Must not panic or block; RemoteNotifyURL is empty by default.
	s.notifyRemote()
}
