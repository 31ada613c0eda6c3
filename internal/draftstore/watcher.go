package draftstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/kangrianai89/catatan/internal/draft"
)

// Change ops reported by Watch.
const (
	OpWritten = "written"
	OpRemoved = "removed"
)

// ChangeFunc is called for draft changes made outside this process. key
// is the raw stored key, still carrying any owner namespace.
type ChangeFunc func(op string, key draft.Key)

// Watch follows the FS store directory until ctx is cancelled and reports
// writes and removals made by other processes sharing it. Changes this
// process made itself are skipped.
func Watch(ctx context.Context, store *FS, logger *slog.Logger, cb ChangeFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(store.root); err != nil {
		return err
	}

	// known maps file names to keys so removals can be reported.
	known := make(map[string]draft.Key)
	if entries, err := os.ReadDir(store.root); err == nil {
		for _, e := range entries {
			if key, ok := store.readKey(e.Name()); ok {
				known[e.Name()] = key
			}
		}
	}

	logger.Info("draft watcher: started", slog.String("root", store.root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("draft watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, Ext) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, err := os.ReadFile(ev.Name)
				if err != nil {
					// Already replaced or removed; a later event follows.
					continue
				}
				key, _, ok := splitFile(data)
				if !ok {
					logger.Debug("draft watcher: skipping partial file", slog.String("file", name))
					continue
				}
				known[name] = key
				if store.ownChange(name, data) {
					continue
				}
				logger.Debug("draft watcher: external write", slog.String("key", string(key)))
				if cb != nil {
					cb(OpWritten, key)
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				key, ok := known[name]
				delete(known, name)
				if !ok || store.ownChange(name, nil) {
					continue
				}
				logger.Debug("draft watcher: external remove", slog.String("key", string(key)))
				if cb != nil {
					cb(OpRemoved, key)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("draft watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
