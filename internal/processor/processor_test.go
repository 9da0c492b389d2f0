package processor

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phorest/internal/config"
	"phorest/internal/manifest"
	"phorest/internal/resultslog"
	"phorest/internal/roigen"
)

func writeFrame(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			v := uint8(20)
			if x >= 18 && x <= 22 {
				v = 240
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestRunCycleProcessesPendingEntries(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	cfg := &config.Config{
		Paths:         config.PathsConfig{DataDir: dataDir, ResultsDir: resultsDir, FlagDir: dataDir},
		DataAnalysis:  config.DataAnalysisConfig{Method: config.MethodMaxIntensity},
		Timing:        config.TimingConfig{ProcessorInterval: 30, PollInterval: 1},
	}

	framePath := filepath.Join(dataDir, "f1.png")
	writeFrame(t, framePath)

	require.NoError(t, manifest.Append(cfg.ManifestPath(), manifest.Entry{
		EntryTimestampISO: "t1",
		CameraData:        &manifest.CameraData{Filepath: framePath},
		ProcessingStatus:  manifest.StatusPending,
	}, time.Now))

	table := roigen.Table{ROIs: map[string]roigen.ROI{
		"ROI_G1_A": {Label: "G1", Coord: [2]int{0, 0}, Size: [2]int{20, 40}},
	}}

	p := New(cfg, table)
	require.NoError(t, p.runCycle())

	entries, err := manifest.Load(cfg.ManifestPath(), time.Now)
	require.NoError(t, err)
	require.Equal(t, manifest.StatusProcessed, entries[0].ProcessingStatus)

	records, err := resultslog.ReadAll(cfg.ResultsLogPath())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "t1", records[0].EntryID)

	require.True(t, fileExists(cfg.ResultsReadyFlagPath()))
}

func TestRunCycleMarksMissingImageAsFailed(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	cfg := &config.Config{
		Paths:        config.PathsConfig{DataDir: dataDir, ResultsDir: resultsDir, FlagDir: dataDir},
		DataAnalysis: config.DataAnalysisConfig{Method: config.MethodMaxIntensity},
	}

	require.NoError(t, manifest.Append(cfg.ManifestPath(), manifest.Entry{
		EntryTimestampISO: "t1",
		CameraData:        &manifest.CameraData{Filepath: filepath.Join(dataDir, "missing.png")},
		ProcessingStatus:  manifest.StatusPending,
	}, time.Now))

	p := New(cfg, roigen.Table{})
	require.NoError(t, p.runCycle())

	entries, err := manifest.Load(cfg.ManifestPath(), time.Now)
	require.NoError(t, err)
	require.Equal(t, manifest.StatusFailed, entries[0].ProcessingStatus)
	require.True(t, entries[0].ProcessingError)
}

func TestRunCycleNoopWhenNoPendingEntries(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	cfg := &config.Config{Paths: config.PathsConfig{DataDir: dataDir, ResultsDir: resultsDir, FlagDir: dataDir}}

	p := New(cfg, roigen.Table{})
	require.NoError(t, p.runCycle())
	require.False(t, fileExists(cfg.ResultsReadyFlagPath()))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
