package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"memoryagent/internal/domain"
)

// Watch re-seeds from path whenever the file is written or replaced, until
// ctx is cancelled. The parent directory is watched so editors that save by
// rename are picked up.
func Watch(ctx context.Context, path string, store domain.SourceStore, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("watching source seed file", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev, target) {
				continue
			}
			reseed(ctx, target, store, logger)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("seed file watcher error", "err", err)
		}
	}
}

func relevant(ev fsnotify.Event, target string) bool {
	if filepath.Clean(ev.Name) != target {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create) != 0
}

func reseed(ctx context.Context, path string, store domain.SourceStore, logger *slog.Logger) {
	sources, err := LoadSeedFile(path)
	if err != nil {
		logger.Warn("seed file reload failed", "path", path, "err", err)
		return
	}
	rep, err := Seed(ctx, store, sources, true, logger)
	if err != nil {
		logger.Error("re-seed failed", "path", path, "err", err)
		return
	}
	logger.Info("sources re-seeded",
		"created", len(rep.Created),
		"updated", len(rep.Updated),
		"unchanged", len(rep.Existing),
	)
}
