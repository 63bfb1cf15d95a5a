// Package local implements a cache store on the local filesystem, one file
// per entry under BaseDir/<sha256(scope)>/<sha256(field)>.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

// Config captures the parameters for the local filesystem cache store.
type Config struct {
	// BaseDir is the root directory where entries are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store reads and writes cache entries as files.
type Store struct {
	baseDir string
	hasher  summary.Hasher
}

// New creates a filesystem-backed store, creating BaseDir if needed and
// verifying it is writable.
func New(cfg Config, hasher summary.Hasher) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir, hasher: hasher}, nil
}

// Get reads the entry for (scope, field); a missing file is a miss.
func (s *Store) Get(_ context.Context, scope, field string) (string, bool, error) {
	path, err := s.entryPath(scope, field)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is confined to baseDir by entryPath.
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cache file: %w", err)
	}
	return string(data), true, nil
}

// Set writes the entry atomically via a temp file and rename.
func (s *Store) Set(_ context.Context, scope, field, value string) error {
	path, err := s.entryPath(scope, field)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create scope directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func (s *Store) entryPath(scope, field string) (string, error) {
	if strings.TrimSpace(scope) == "" {
		return "", fmt.Errorf("scope is required")
	}
	dir, err := s.hasher.Hash([]byte(scope))
	if err != nil {
		return "", fmt.Errorf("hash scope: %w", err)
	}
	digest, err := s.hasher.Hash([]byte(field))
	if err != nil {
		return "", fmt.Errorf("hash field: %w", err)
	}
	fullPath := filepath.Join(s.baseDir, dir, digest)

	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
