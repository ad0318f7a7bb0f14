package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a single configuration file for writes/creates (an atomic
// save typically unlinks and recreates the file) and invokes onChange on
// the watcher's own goroutine.
type Watcher struct {
	w    *fsnotify.Watcher
	path string
}

// WatchFile starts watching path's containing directory (rather than the
// file itself, since editors commonly replace a file by renaming a temp
// file over it, which fsnotify cannot follow across the rename).
func WatchFile(path string, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &Watcher{w: w, path: filepath.Clean(path)}
	go cw.loop(onChange)
	return cw, nil
}

func (cw *Watcher) loop(onChange func()) {
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				onChange()
			}
		case _, ok := <-cw.w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (cw *Watcher) Close() error {
	return cw.w.Close()
}
