package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage writes objects below an absolute base directory.
type LocalStorage struct {
	baseDir string
	maxSize int64
}

// NewLocalStorage resolves baseDir to an absolute path and creates it if needed.
func NewLocalStorage(baseDir string, maxSize int64) (*LocalStorage, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("storage: empty base directory")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", baseDir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", abs, err)
	}
	return &LocalStorage{baseDir: abs, maxSize: maxSize}, nil
}

// BaseDir returns the absolute storage root.
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

// Save copies r into baseDir/key. Partial files are removed on failure.
func (s *LocalStorage) Save(ctx context.Context, key string, r io.Reader) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("storage: create file: %w", err)
	}
	written, err := io.Copy(out, newLimitReader(&ctxReader{ctx: ctx, r: r}, s.maxSize))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("storage: write file: %w", err)
	}
	return &Object{Key: key, Location: dst, Size: written}, nil
}

// Delete removes the file at location. Missing files are not an error.
func (s *LocalStorage) Delete(_ context.Context, location string) error {
	if !s.contains(location) {
		return ErrInvalidKey
	}
	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %s: %w", location, err)
	}
	return nil
}

func (s *LocalStorage) contains(location string) bool {
	rel, err := filepath.Rel(s.baseDir, location)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// ctxReader stops copying once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
