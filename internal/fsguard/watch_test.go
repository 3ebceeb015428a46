//go:build unix

package fsguard

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchRootsForcesRefreshOnChange(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(DefaultDetector(), []string{dir}, time.Hour) // long TTL: only the watcher should trigger a rescan
	cache.ForceRefresh()
	before := cache.lastRefresh

	w, err := WatchRoots(cache)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cache.mu.Lock()
		refreshed := cache.lastRefresh.After(before)
		cache.mu.Unlock()
		if refreshed {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cache was never refreshed in response to a filesystem event")
}
