package cursor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileStore keeps the watermark as a decimal integer in a text file
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the watermark file
func (s *FileStore) Path() string { return s.path }

// Load reads the watermark. A missing or empty file is 0.
func (s *FileStore) Load(_ context.Context) (int64, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", s.path, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return v, nil
}

// Save replaces the file atomically. A crash leaves either the old or the
// new value, never a partial one.
func (s *FileStore) Save(_ context.Context, id int64) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(strconv.FormatInt(id, 10)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write watermark: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync watermark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close watermark: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
