package resultslog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processing_results.jsonl")

	require.NoError(t, Append(path, Record{EntryID: "t1", EntryTimestampISO: "t1"}))
	require.NoError(t, Append(path, Record{EntryID: "t2", EntryTimestampISO: "t2"}))

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "t1", records[0].EntryID)
	require.Equal(t, "t2", records[1].EntryID)
}

func TestAppendSkipsDuplicateEntryID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processing_results.jsonl")

	require.NoError(t, Append(path, Record{EntryID: "dup", ProcessingTimestampISO: "first"}))
	require.NoError(t, Append(path, Record{EntryID: "dup", ProcessingTimestampISO: "second"}))

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "first", records[0].ProcessingTimestampISO)
}

func TestContainsReportsPresenceWithoutMutating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processing_results.jsonl")
	require.NoError(t, Append(path, Record{EntryID: "t1"}))

	found, err := Contains(path, "t1")
	require.NoError(t, err)
	require.True(t, found)

	found, err = Contains(path, "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestReadAllOnMissingFileReturnsEmptyNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never_written.jsonl")
	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Empty(t, records)
}
