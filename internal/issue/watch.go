package issue

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reports changes to one issue state file. Open it before reading the
// state so a save between the read and Wait is not missed.
type Watcher struct {
	w      *fsnotify.Watcher
	target string
}

// Watch starts watching the file at path.
func Watch(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	target := filepath.Clean(path)
	// Atomic saves replace the file, so watch the directory.
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	return &Watcher{w: w, target: target}, nil
}

// Wait blocks until the file is written, created or renamed into place since
// Watch or the previous Wait, or until ctx is done.
func (w *Watcher) Wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.w.Events:
			if !ok {
				return fmt.Errorf("fsnotify watcher closed")
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("issue state changed")
				return nil
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return fmt.Errorf("fsnotify watcher closed")
			}
			log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}
