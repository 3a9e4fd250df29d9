package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
)

// debounce absorbs rapid sequences of file events into one reload. Editors
// and sync agents often touch the file several times per save.
const debounce = 200 * time.Millisecond

// Reloader re-reads the collection from disk. Satisfied by *store.Store.
type Reloader interface {
	Reload() []models.Note
}

// Watch monitors the data directory for out-of-band changes to the
// collection file (another process, a file sync agent) and, after a
// debounce interval, reloads the store, resyncs the index, and calls cb.
// It runs until ctx is cancelled.
func Watch(ctx context.Context, db NoteIndex, st Reloader, dataDir string, logger *slog.Logger, cb func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dataDir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("dir", dataDir))

	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			notes := st.Reload()
			if err := Sync(db, notes, logger); err != nil {
				logger.Warn("watcher: resync failed", slog.String("error", err.Error()))
			}
			logger.Debug("watcher: collection reloaded", slog.Int("notes", len(notes)))
			if cb != nil {
				cb()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != store.CollectionFile {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
