// Package watchdog turns filesystem creation events into a channel feed.
// The seed importer uses it to pick up inputs dropped into a sync
// directory by other tools or by hand.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Filter decides whether a created path is forwarded. Nil forwards all.
type Filter func(path string) bool

type WatchDog struct {
	watchCtx   context.Context
	notifyChan chan<- string
	filter     Filter
	logger     *zap.Logger

	watcher *fsnotify.Watcher
}

// New starts watching for file creations. Paths of created files go to
// notifyChan, which is closed when watchCtx is done.
func New(watchCtx context.Context, notifyChan chan<- string, filter Filter, logger *zap.Logger) (*WatchDog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watchdog: create watcher: %w", err)
	}

	w := &WatchDog{
		watchCtx:   watchCtx,
		notifyChan: notifyChan,
		filter:     filter,
		logger:     logger.Named("watchdog"),
		watcher:    watcher,
	}
	go w.watch()
	return w, nil
}

// AddDir adds a directory to the watch list.
func (w *WatchDog) AddDir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("watchdog: resolve %s: %w", dir, err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return fmt.Errorf("watchdog: stat %s: %w", absDir, err)
	}
	if err := w.watcher.Add(absDir); err != nil {
		return fmt.Errorf("watchdog: watch %s: %w", absDir, err)
	}
	w.logger.Debug("watching directory", zap.String("dir", absDir))
	return nil
}

func (w *WatchDog) watch() {
	defer w.watcher.Close()
	defer close(w.notifyChan)
	for {
		select {
		case <-w.watchCtx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (w *WatchDog) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == 0 {
		return
	}
	if w.filter != nil && !w.filter(event.Name) {
		return
	}
	select {
	case w.notifyChan <- event.Name:
	case <-w.watchCtx.Done():
	}
}
