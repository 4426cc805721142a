package server

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor produces when it
// saves a file.
const watchDebounce = 200 * time.Millisecond

// Watcher watches one file and calls onReload after it changes.
// The parent directory is watched so editors that save by renaming a
// temporary file over the original are still seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onReload func(filePath string) error
	done     chan struct{}
	stopOnce sync.Once
	debug    bool
}

// NewWatcher creates a watcher for the given file.
func NewWatcher(path string, onReload func(string) error, debug bool) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fsWatcher,
		path:     abs,
		onReload: onReload,
		done:     make(chan struct{}),
		debug:    debug,
	}, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() {
	go func() {
		var timer *time.Timer
		fire := make(chan struct{}, 1)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if w.debug {
					log.Printf("[Watch] %s: %s", event.Op, event.Name)
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})

			case <-fire:
				log.Printf("[Watch] File changed: %s", filepath.Base(w.path))
				if err := w.onReload(w.path); err != nil {
					log.Printf("[Watch] Reload failed for %s: %v", w.path, err)
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Watch] Error: %v", err)

			case <-w.done:
				return
			}
		}
	}()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
