package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the course file whenever it changes on disk and calls
// onChange after each reload that changed the content. Saves made through
// Upsert and Delete do not trigger onChange. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors and our own saves replace the file.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(s.path)

	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(reloadDelay)

		case <-timer.C:
			changed, err := s.Reload()
			if err != nil {
				log.WithField("path", s.path).Warnf("store: reload failed, keeping previous courses: %v", err)
				continue
			}
			if changed {
				log.WithField("path", s.path).Info("store: courses reloaded")
				onChange()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("store: watcher error: %v", err)
		}
	}
}
