package communicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phorest/internal/config"
	"phorest/internal/manifest"
	"phorest/internal/resultslog"
)

func testConfig(t *testing.T, dataDir, resultsDir string) *config.Config {
	t.Helper()
	return &config.Config{
		Paths:         config.PathsConfig{DataDir: dataDir, ResultsDir: resultsDir, FlagDir: dataDir},
		Communication: config.CommunicationConfig{Method: config.CommCSVPlot},
		DataAnalysis:  config.DataAnalysisConfig{Method: config.MethodMaxIntensity},
		Timing:        config.TimingConfig{CommunicatorInterval: 60},
	}
}

func TestRunCycleSkipsWhenNothingUntransmitted(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), t.TempDir())
	require.NoError(t, manifest.Append(cfg.ManifestPath(), manifest.Entry{
		EntryTimestampISO: "t1",
		ProcessingStatus:  manifest.StatusProcessed,
		DataTransmitted:   true,
	}, time.Now))

	c := New(cfg)
	require.NoError(t, c.runCycle())
	require.NoFileExists(t, cfg.CSVPath())
}

func TestRunCycleWritesCSVAndMarksTransmitted(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), t.TempDir())
	require.NoError(t, manifest.Append(cfg.ManifestPath(), manifest.Entry{
		EntryTimestampISO: "t1",
		ProcessingStatus:  manifest.StatusProcessed,
		DataTransmitted:   false,
	}, time.Now))
	require.NoError(t, resultslog.Append(cfg.ResultsLogPath(), resultslog.Record{
		EntryID:                "t1",
		ProcessingTimestampISO: "2026-01-01T00:00:00Z",
		ImageAnalysis: []map[string]any{
			{"brightness": 1.0},
			{"ROI-label": "G1", "max_intensity": map[string]any{"Mean": 5.0}},
		},
	}))

	c := New(cfg)
	require.NoError(t, c.runCycle())
	require.FileExists(t, cfg.CSVPath())

	entries, err := manifest.Load(cfg.ManifestPath(), time.Now)
	require.NoError(t, err)
	require.True(t, entries[0].DataTransmitted)
}
