package fsguard

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher wraps an fsnotify.Watcher that forces a protected-files
// refresh as soon as one of the cache's roots changes, instead of
// waiting for the next passive TTL expiry or batch-entry ForceRefresh.
// This is optional: a Cache works correctly without ever calling
// WatchRoots, just with coarser staleness.
type Watcher struct {
	fsw   *fsnotify.Watcher
	cache *Cache
	done  chan struct{}
}

// WatchRoots starts an fsnotify watch on every root the cache scans and
// calls ForceRefresh whenever fsnotify reports a create/remove/rename
// under one of them — catching a protected file being replaced or a new
// one appearing between passive refreshes. Call Close to stop watching.
func WatchRoots(cache *Cache) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range cache.roots {
		if err := fsw.Add(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{fsw: fsw, cache: cache, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				w.cache.ForceRefresh()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watch goroutine and releases the underlying
// fsnotify.Watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
