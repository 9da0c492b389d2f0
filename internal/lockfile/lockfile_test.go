package lockfile

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPathAppendsLockSuffix(t *testing.T) {
	require.Equal(t, "/data/metadata_manifest.json.lock", Path("/data/metadata_manifest.json"))
}

func TestWithLockRunsFnAndReleasesAfterwards(t *testing.T) {
	target := filepath.Join(t.TempDir(), "manifest.json")

	ran := false
	require.NoError(t, WithLock(target, func() error {
		ran = true
		return nil
	}))
	require.True(t, ran)

	// A second acquisition must succeed promptly if the first released.
	require.NoError(t, WithLock(target, func() error { return nil }))
}

func TestWithLockSerializesConcurrentCallers(t *testing.T) {
	target := filepath.Join(t.TempDir(), "manifest.json")

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	var inside, overlaps int32

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = WithLock(target, func() error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	require.Len(t, order, 5)
	require.Zero(t, atomic.LoadInt32(&overlaps), "two callers held the lock at once")
}
