// Package storage persists uploaded file bytes on the local disk or in an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	// ErrInvalidKey is returned for empty keys or keys escaping the storage root.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrTooLarge is returned when the body exceeds the configured size limit.
	ErrTooLarge = errors.New("storage: object too large")
)

// Object describes a stored blob.
type Object struct {
	Key      string
	Location string // absolute path or object URL, recorded as audio_files.filepath
	Size     int64
}

// Storage persists blobs under deterministic keys. Saving an existing key overwrites it.
type Storage interface {
	Save(ctx context.Context, key string, r io.Reader) (*Object, error)
	Delete(ctx context.Context, location string) error
}

// cleanKey normalizes key and rejects traversal outside the root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// limitReader fails with ErrTooLarge once more than max bytes were read. max <= 0 disables the limit.
type limitReader struct {
	r    io.Reader
	left int64
}

func newLimitReader(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return &limitReader{r: r, left: max + 1}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if int64(len(p)) > l.left {
		p = p[:l.left]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left <= 0 {
		return n, ErrTooLarge
	}
	return n, err
}
