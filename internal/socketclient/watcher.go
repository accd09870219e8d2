package socketclient

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/sockpong/internal/logger"
)

// endpointWatcher calls onCreate whenever the socket file is (re)created or
// its mode changes.
// The parent directory is watched because the socket file itself comes and
// goes with the server.
type endpointWatcher struct {
	path      string
	watcher   *fsnotify.Watcher
	onCreate  func()
	stopWatch chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newEndpointWatcher(socketPath string, onCreate func()) (*endpointWatcher, error) {
	absPath, err := filepath.Abs(socketPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &endpointWatcher{
		path:      absPath,
		watcher:   watcher,
		onCreate:  onCreate,
		stopWatch: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

func (w *endpointWatcher) watch() {
	defer close(w.done)
	for {
		select {
		case <-w.stopWatch:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// The server chmods the socket after listen, so Chmod is the
			// reliable "accepting now" signal; Create covers other servers
			if filepath.Clean(event.Name) == w.path && (event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod)) {
				w.onCreate()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Global().Error("endpoint watcher error: %v", err)
		}
	}
}

// Close stops the watcher
func (w *endpointWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopWatch)
		err = w.watcher.Close()
	})
	return err
}
