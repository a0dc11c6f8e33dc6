package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // if true, files already present form the first batch
	Debounce    time.Duration // quiet period that closes a batch
	SkipHidden  bool
}

// Watch reports CV files dropped into the roots. Files that arrive close
// together (no gap longer than Debounce) are delivered as one sorted batch.
// A path is delivered once: rewriting or touching it later is not a new drop,
// but removing it and dropping it again is. The channel is closed when ctx is
// done.
func Watch(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, errors.New("no roots provided")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, err
	}

	pending := map[string]struct{}{}
	delivered := map[string]struct{}{}
	addDir := func(root string, collect bool) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if cfg.SkipHidden && path != root && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if _, seen := delivered[path]; collect && !seen && AllowedExt(filepath.Ext(path)) {
				pending[path] = struct{}{}
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r, cfg.InitialScan); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, err
		}
	}

	out := make(chan []string)
	go func() {
		defer close(out)
		defer w.Close()

		timer := time.NewTimer(time.Hour)
		timer.Stop()
		if len(pending) > 0 {
			timer.Reset(cfg.Debounce)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if cfg.SkipHidden && IsHidden(e.Name) {
					continue
				}
				if e.Has(fsnotify.Create) {
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
						// files moved in together with the directory only show up in the walk
						if err := addDir(e.Name, true); err != nil {
							logger.Warn("failed to watch new directory", "path", e.Name, "error", err)
						}
						timer.Reset(cfg.Debounce)
						continue
					}
				}
				if !AllowedExt(filepath.Ext(e.Name)) {
					continue
				}
				_, isPending := pending[e.Name]
				switch {
				case e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename):
					delete(pending, e.Name)
					delete(delivered, e.Name)
				case e.Has(fsnotify.Create):
					if _, seen := delivered[e.Name]; seen {
						logger.Debug("watch.skip.redelivery", "path", e.Name)
						continue
					}
					pending[e.Name] = struct{}{}
					timer.Reset(cfg.Debounce)
				case e.Has(fsnotify.Write) && isPending:
					// still being copied in
					timer.Reset(cfg.Debounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("watcher error", "error", err)
			case <-timer.C:
				if len(pending) == 0 {
					continue
				}
				batch := make([]string, 0, len(pending))
				for p := range pending {
					batch = append(batch, p)
					delivered[p] = struct{}{}
				}
				sort.Strings(batch)
				pending = map[string]struct{}{}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
