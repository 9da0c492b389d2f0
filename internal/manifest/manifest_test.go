package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata_manifest.json")

	entries, err := Load(path, fixedNow)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata_manifest.json")

	want := []Entry{
		{
			EntryTimestampISO: "2026-01-01T00:00:00Z",
			ProcessingStatus:  StatusPending,
			CameraData: &CameraData{
				Filename: "frame_0.png",
				Filepath: "/data/frame_0.png",
			},
		},
	}
	require.NoError(t, Save(path, want))

	got, err := Load(path, fixedNow)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestAppendIsCumulative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata_manifest.json")

	require.NoError(t, Append(path, Entry{EntryTimestampISO: "t0", ProcessingStatus: StatusPending}, fixedNow))
	require.NoError(t, Append(path, Entry{EntryTimestampISO: "t1", ProcessingStatus: StatusPending}, fixedNow))

	got, err := Load(path, fixedNow)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "t0", got[0].EntryTimestampISO)
	require.Equal(t, "t1", got[1].EntryTimestampISO)
}

func TestCorruptManifestIsRenamedAsideAndTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata_manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	entries, err := Load(path, fixedNow)
	require.NoError(t, err)
	require.Empty(t, entries)

	// Original file is gone, renamed aside with the corrupt_<ts> suffix.
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	matches, err := filepath.Glob(filepath.Join(dir, "metadata_manifest.corrupt_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestUpdateAppliesScalarBroadcast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata_manifest.json")
	require.NoError(t, Save(path, []Entry{
		{EntryTimestampISO: "t0", ProcessingStatus: StatusPending},
		{EntryTimestampISO: "t1", ProcessingStatus: StatusPending},
	}))

	err := Update(path, []int{0, 1}, []FieldUpdate{
		{Field: "processing_status", Value: StatusProcessed},
	}, fixedNow)
	require.NoError(t, err)

	got, err := Load(path, fixedNow)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, got[0].ProcessingStatus)
	require.Equal(t, StatusProcessed, got[1].ProcessingStatus)
}

func TestUpdateAppliesPerIndexValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata_manifest.json")
	require.NoError(t, Save(path, []Entry{
		{EntryTimestampISO: "t0", ProcessingStatus: StatusPending},
		{EntryTimestampISO: "t1", ProcessingStatus: StatusPending},
	}))

	err := Update(path, []int{0, 1}, []FieldUpdate{
		{Field: "processing_status", Value: []ProcessingStatus{StatusProcessed, StatusFailed}},
	}, fixedNow)
	require.NoError(t, err)

	got, err := Load(path, fixedNow)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, got[0].ProcessingStatus)
	require.Equal(t, StatusFailed, got[1].ProcessingStatus)
}

func TestUpdateSkipsUnknownIndices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata_manifest.json")
	require.NoError(t, Save(path, []Entry{
		{EntryTimestampISO: "t0", ProcessingStatus: StatusPending},
	}))

	// Simulate the manifest having been rotated smaller by Backup: index 5
	// no longer exists, and the call must not error.
	err := Update(path, []int{0, 5}, []FieldUpdate{
		{Field: "processing_status", Value: StatusProcessed},
	}, fixedNow)
	require.NoError(t, err)

	got, err := Load(path, fixedNow)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, StatusProcessed, got[0].ProcessingStatus)
}

func TestUpdateSkipsMismatchedPerIndexLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata_manifest.json")
	require.NoError(t, Save(path, []Entry{
		{EntryTimestampISO: "t0", ProcessingStatus: StatusPending},
		{EntryTimestampISO: "t1", ProcessingStatus: StatusPending},
	}))

	err := Update(path, []int{0, 1}, []FieldUpdate{
		{Field: "processing_status", Value: []ProcessingStatus{StatusProcessed}},
	}, fixedNow)
	require.NoError(t, err)

	got, err := Load(path, fixedNow)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got[0].ProcessingStatus)
	require.Equal(t, StatusPending, got[1].ProcessingStatus)
}

func TestIndicesWithStatus(t *testing.T) {
	entries := []Entry{
		{ProcessingStatus: StatusPending},
		{ProcessingStatus: StatusProcessed},
		{ProcessingStatus: StatusPending},
	}
	require.Equal(t, []int{0, 2}, IndicesWithStatus(entries, StatusPending))
}
