package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalConfig configures the local filesystem backend.
type LocalConfig struct {
	Path string // base directory
}

// Local is the filesystem archive backend. put writes to a sibling temp
// file and renames it over the target so a concurrent Get never observes a
// partial archive — the same atomic-publish idiom as the teacher's
// internal/materializer package (download to .partial, rename to .osz).
type Local struct {
	baseDir string
}

func NewLocal(cfg LocalConfig) (*Local, error) {
	base := cfg.Path
	if base == "" {
		base = "./data/beatmaps"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("storage/local: create base dir: %w", err)
	}
	return &Local{baseDir: base}, nil
}

func (l *Local) Backend() string { return "local" }

func (l *Local) path(id int64, noVideo bool) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(RelativePath(id, noVideo)))
}

func (l *Local) Get(_ context.Context, id int64, noVideo bool) ([]byte, error) {
	data, err := os.ReadFile(l.path(id, noVideo))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage/local: get: %w", err)
	}
	return data, nil
}

func (l *Local) Put(_ context.Context, id int64, noVideo bool, data []byte) error {
	dest := l.path(id, noVideo)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("storage/local: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".osz-*.tmp")
	if err != nil {
		return fmt.Errorf("storage/local: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("storage/local: write temp: %w", writeErr)
		}
		return fmt.Errorf("storage/local: close temp: %w", closeErr)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage/local: rename: %w", err)
	}
	return nil
}

func (l *Local) Exists(_ context.Context, id int64, noVideo bool) (bool, error) {
	_, err := os.Stat(l.path(id, noVideo))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("storage/local: exists: %w", err)
}

func (l *Local) Delete(_ context.Context, id int64, noVideo bool) error {
	err := os.Remove(l.path(id, noVideo))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage/local: delete: %w", err)
	}
	return nil
}
