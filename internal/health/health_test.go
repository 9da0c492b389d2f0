package health

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phorest/internal/config"
	"phorest/internal/svcstatus"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{Paths: config.PathsConfig{DataDir: t.TempDir(), ResultsDir: t.TempDir()}}
}

func TestClassifyStoppedService(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, svcstatus.Stopped(cfg.StatusPath(), "collector"))

	sup := New(cfg, []string{"collector"})
	reports, err := sup.Classify(time.Now())
	require.NoError(t, err)
	require.Equal(t, ClassStopped, reports[0].Classification)
}

func TestClassifyUnknownServiceIsNoHeartbeat(t *testing.T) {
	cfg := testConfig(t)
	sup := New(cfg, []string{"processor"})
	reports, err := sup.Classify(time.Now())
	require.NoError(t, err)
	require.Equal(t, ClassNoHeartbeat, reports[0].Classification)
}

func TestClassifyRunningOKWithinCadence(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()
	require.NoError(t, svcstatus.Heartbeat(cfg.StatusPath(), "collector", os.Args[0], 30, now))

	sup := New(cfg, []string{"collector"})
	reports, err := sup.Classify(now.Add(5 * time.Second))
	require.NoError(t, err)
	require.Equal(t, ClassRunningOK, reports[0].Classification)
}

func TestClassifyStaleHeartbeatBeyond1point5xCadence(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()
	require.NoError(t, svcstatus.Heartbeat(cfg.StatusPath(), "collector", os.Args[0], 10, now))

	sup := New(cfg, []string{"collector"})
	reports, err := sup.Classify(now.Add(20 * time.Second))
	require.NoError(t, err)
	require.Equal(t, ClassStaleHeartbeat, reports[0].Classification)
}

func TestClassifyCrashedWhenPIDCommandMismatch(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()
	require.NoError(t, svcstatus.Heartbeat(cfg.StatusPath(), "collector", "definitely-not-the-real-command", 30, now))

	sup := New(cfg, []string{"collector"})
	reports, err := sup.Classify(now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, ClassCrashed, reports[0].Classification)
}

func TestRunCycleRendersReportPNG(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, svcstatus.Heartbeat(cfg.StatusPath(), "collector", os.Args[0], 30, time.Now()))
	require.NoError(t, svcstatus.Stopped(cfg.StatusPath(), "processor"))

	sup := New(cfg, []string{"collector", "processor"})
	require.NoError(t, sup.runCycle())

	info, err := os.Stat(cfg.HealthReportPath())
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
