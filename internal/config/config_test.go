package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phorest.toml"), []byte(body), 0o644))
}

func TestLoadAppliesDefaultsAndFlagDirFallback(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
[Paths]
root_dir = "/data/phorest"
data_dir = "/data/phorest/data"
results_dir = "/data/phorest/results"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 60, cfg.Timing.CollectorInterval)
	require.Equal(t, 5, cfg.Retries.CollectorFailureLimit)
	require.Equal(t, MethodMaxIntensity, cfg.DataAnalysis.Method)
	require.Equal(t, cfg.Paths.DataDir, cfg.Paths.FlagDir)
}

func TestLoadRejectsMissingRequiredPaths(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
[Data_Analysis]
method = "centre"
`)

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadRejectsUnknownAnalysisMethod(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
[Paths]
root_dir = "/data"
data_dir = "/data/data"
results_dir = "/data/results"

[Data_Analysis]
method = "not_a_real_method"
`)

	_, err := Load(dir)
	require.Error(t, err)
}

func TestPathHelpersJoinConfiguredDirs(t *testing.T) {
	cfg := &Config{Paths: PathsConfig{
		DataDir:    "/data/phorest/data",
		ResultsDir: "/data/phorest/results",
		FlagDir:    "/data/phorest/data",
	}}

	require.Equal(t, filepath.Join(cfg.Paths.DataDir, "metadata_manifest.json"), cfg.ManifestPath())
	require.Equal(t, filepath.Join(cfg.Paths.DataDir, "pipeline_status.json"), cfg.StatusPath())
	require.Equal(t, filepath.Join(cfg.Paths.ResultsDir, "processing_results.jsonl"), cfg.ResultsLogPath())
	require.Equal(t, filepath.Join(cfg.Paths.ResultsDir, "communicating_results.csv"), cfg.CSVPath())
	require.Equal(t, filepath.Join(cfg.Paths.ResultsDir, "processed_data_plot.png"), cfg.PlotPath())
	require.Equal(t, filepath.Join(cfg.Paths.ResultsDir, "health_report.png"), cfg.HealthReportPath())
	require.Equal(t, filepath.Join(cfg.Paths.FlagDir, "data_ready"), cfg.DataReadyFlagPath())
	require.Equal(t, filepath.Join(cfg.Paths.FlagDir, "results_ready"), cfg.ResultsReadyFlagPath())
}
