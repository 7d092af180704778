// Package datasource loads per-project configuration files.
//
// A config lives next to a project's templates under a base name without
// extension; Fetch tries a list of extensions in order and parses the first
// file that exists. Parsed configs are cached until the file's modification
// time or size changes.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/conneroisu/sugar/internal/logging"
	"github.com/spf13/afero"
)

type cacheEntry struct {
	modTime time.Time
	size    int64
	config  map[string]interface{}
}

// Source reads project configs from a filesystem.
type Source struct {
	fs     afero.Fs
	logger logging.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a Source over fsys.
func New(fsys afero.Fs, logger logging.Logger) *Source {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Source{
		fs:     fsys,
		logger: logger.WithComponent("datasource"),
		cache:  make(map[string]cacheEntry),
	}
}

// Fetch parses the first existing file among base+ext for each of exts.
// found is false when none exists.
func (s *Source) Fetch(ctx context.Context, base string, exts []string) (map[string]interface{}, bool, error) {
	for _, ext := range exts {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		path := base + ext
		info, err := s.fs.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, false, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}

		config, err := s.load(ctx, path, ext, info)
		if err != nil {
			return nil, false, err
		}
		return copyMap(config), true, nil
	}
	return nil, false, nil
}

func (s *Source) load(ctx context.Context, path, ext string, info fs.FileInfo) (map[string]interface{}, error) {
	s.mu.RLock()
	entry, ok := s.cache[path]
	s.mu.RUnlock()
	if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.config, nil
	}

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	config, err := Parse(ext, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	s.mu.Lock()
	s.cache[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), config: config}
	s.mu.Unlock()

	s.logger.Debug(ctx, "Loaded project config", "path", path, "keys", len(config))
	return config, nil
}

// Invalidate drops every cached config.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
}

// copyMap gives callers a top-level copy so cached configs stay intact.
func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
