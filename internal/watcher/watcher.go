// Package watcher monitors the transcript directory in server mode and
// triggers debounced scans when logs grow.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses bursts of transcript appends into one scan.
const watchDebounce = 2 * time.Second

// ScanFunc runs one transcript scan.
type ScanFunc func()

// Watcher debounces filesystem events on the transcript directory.
type Watcher struct {
	dir    string
	scan   ScanFunc
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a transcript directory watcher.
func New(dir string, scan ScanFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{dir: dir, scan: scan, fsw: fsw}, nil
}

// Start begins watching. A missing directory is not an error; the
// watcher simply stays idle.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("transcript dir missing, watcher idle", "dir", w.dir)
		} else {
			return err
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)

	slog.Info("transcript watcher started", "dir", w.dir)
	return nil
}

// Stop shuts down the watcher, cancelling any pending debounce timer.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.fsw.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.arm()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("transcript watcher error", "error", err)
		}
	}
}

// arm resets the debounce timer; the scan fires once events go quiet.
func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.scan)
}
