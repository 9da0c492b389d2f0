package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phorest/internal/config"
)

func TestArchiveMovesExistingFilesAndSkipsMissing(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	backupDir := t.TempDir()

	cfg := &config.Config{Paths: config.PathsConfig{
		DataDir: dataDir, ResultsDir: resultsDir, BackupDir: backupDir,
	}}

	manifestPath := cfg.ManifestPath()
	require.NoError(t, os.WriteFile(manifestPath, []byte("[]"), 0o644))
	// ResultsLogPath/CSVPath/PlotPath are intentionally left absent to
	// exercise the "skip missing file with a warning" path.

	b := New(cfg)
	b.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, b.archive())
	require.NoFileExists(t, manifestPath)

	entries, err := os.ReadDir(filepath.Join(backupDir, filepath.Base(dataDir)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), "20260102_030405")
}

func TestCompressTreeGzipsAndRemovesOriginals(t *testing.T) {
	backupDir := t.TempDir()
	plain := filepath.Join(backupDir, "a.json")
	require.NoError(t, os.WriteFile(plain, []byte(`{"x":1}`), 0o644))

	cfg := &config.Config{Paths: config.PathsConfig{DataDir: t.TempDir(), ResultsDir: t.TempDir(), BackupDir: backupDir}}
	b := New(cfg)

	require.NoError(t, b.compressTree())
	require.NoFileExists(t, plain)
	require.FileExists(t, plain+".gz")
}
