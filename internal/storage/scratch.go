package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
)

// Handle is a downloaded object in scratch space. Release removes it and is
// safe to call more than once.
type Handle struct {
	Path string
	Key  string

	once    sync.Once
	release func() error
	err     error
}

func (h *Handle) Release() error {
	h.once.Do(func() {
		if h.release != nil {
			h.err = h.release()
		}
	})
	return h.err
}

// Scratch copies objects from a Storage into a local working directory so
// external tools can read them by path.
type Scratch struct {
	store  Storage
	dir    string
	logger *slog.Logger
}

func NewScratch(store Storage, dir string, logger *slog.Logger) *Scratch {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &Scratch{store: store, dir: dir, logger: logger}
}

// Fetch downloads key into a fresh temp file that keeps the original
// extension (extraction dispatches on it).
func (s *Scratch) Fetch(ctx context.Context, key string) (*Handle, error) {
	rc, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(s.dir, "cv-*"+path.Ext(key))
	if err != nil {
		return nil, fmt.Errorf("scratch file: %w", err)
	}
	name := f.Name()
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return nil, fmt.Errorf("download %s: %w", key, err)
	}

	s.logger.Debug("scratch.fetch.ok", "key", key, "path", name, "bytes", n)
	return &Handle{
		Path: name,
		Key:  key,
		release: func() error {
			if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("scratch.release.failed", "path", name, "error", err)
				return err
			}
			return nil
		},
	}, nil
}
