package convert

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"voltex/internal/fsutil"
)

// settleDelay is how long the watcher waits after an event before checking
// whether the acquisition directory is complete.
const settleDelay = 100 * time.Millisecond

// AcquisitionWatcher monitors a data root for acquisitions becoming
// complete. Acquisition directories fill up gradually (the stacks copy in,
// then the tables), so the watcher re-checks a directory on every event
// under it and announces each directory exactly once.
type AcquisitionWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	layout  fsutil.Layout
	log     *slog.Logger

	// Discovered delivers complete acquisition directories.
	Discovered chan string

	mu   sync.Mutex
	seen map[string]bool

	done     chan struct{}
	loop     sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// NewAcquisitionWatcher creates a watcher over root.
func NewAcquisitionWatcher(root string, layout fsutil.Layout, logger *slog.Logger) (*AcquisitionWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &AcquisitionWatcher{
		watcher:    watcher,
		root:       root,
		layout:     layout,
		log:        logger,
		Discovered: make(chan string, 16),
		seen:       make(map[string]bool),
		done:       make(chan struct{}),
	}, nil
}

// Start announces acquisitions already complete under the root, then begins
// monitoring for new ones.
func (w *AcquisitionWatcher) Start() error {
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}
	w.log.Info("watching data root", "root", w.root)

	existing, err := fsutil.ListAcquisitions(w.root, w.layout)
	if err != nil {
		return err
	}
	for _, dir := range existing {
		w.announce(dir)
	}

	w.loop.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops the watcher. Discovered is closed only after the event loop
// has exited, so an announcement in flight is delivered or dropped, never
// sent on a closed channel. Safe to call more than once.
func (w *AcquisitionWatcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
		w.stopErr = w.watcher.Close()
		w.loop.Wait()
		close(w.Discovered)
	})
	return w.stopErr
}

func (w *AcquisitionWatcher) processEvents() {
	defer w.loop.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			dir := w.acquisitionDirFor(event.Name)
			if dir == "" {
				continue
			}
			if event.Op&fsnotify.Create != 0 && event.Name == dir {
				// New acquisition directory: watch it so we see its
				// files arrive.
				if err := w.watcher.Add(dir); err != nil {
					w.log.Warn("cannot watch acquisition dir", "dir", dir, "error", err)
				}
			}
			// Copies are not atomic; give the last file a moment to land.
			select {
			case <-time.After(settleDelay):
			case <-w.done:
				return
			}
			if fsutil.IsAcquisitionDir(dir, w.layout) {
				w.announce(dir)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// acquisitionDirFor maps an event path onto the acquisition directory it
// belongs to: either the path itself or its parent, directly under the root.
func (w *AcquisitionWatcher) acquisitionDirFor(path string) string {
	if filepath.Dir(path) == w.root {
		return path
	}
	if filepath.Dir(filepath.Dir(path)) == w.root {
		return filepath.Dir(path)
	}
	return ""
}

func (w *AcquisitionWatcher) announce(dir string) {
	w.mu.Lock()
	already := w.seen[dir]
	w.seen[dir] = true
	w.mu.Unlock()
	if already {
		return
	}

	select {
	case w.Discovered <- dir:
	default:
		w.log.Warn("discovery buffer full, dropping acquisition", "dir", dir)
		w.mu.Lock()
		w.seen[dir] = false
		w.mu.Unlock()
	}
}
