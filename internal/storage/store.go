package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrIO wraps every filesystem failure reported by the store
var ErrIO = errors.New("artifact I/O failed")

// Store keeps capture artifacts as uuid-named files in one directory
type Store struct {
	dir string
	ext string
}

// New creates the directory if needed and returns a store writing .jpg files
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "stillframe")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create artifact directory: %w", ErrIO, err)
	}
	return &Store{dir: dir, ext: ".jpg"}, nil
}

// Dir returns the artifact directory
func (s *Store) Dir() string {
	return s.dir
}

// Create writes data to a fresh uniquely named file and returns its path
func (s *Store) Create(data []byte) (string, error) {
	return s.CreateFrom(func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CreateFrom opens a fresh uniquely named file and lets write fill it.
// The file is removed if write or close fails.
func (s *Store) CreateFrom(write func(w io.Writer) error) (string, error) {
	path := filepath.Join(s.dir, uuid.NewString()+s.ext)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create %s: %w", ErrIO, path, err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: failed to write %s: %w", ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: failed to close %s: %w", ErrIO, path, err)
	}
	return path, nil
}

// Open opens an artifact for reading
func (s *Store) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return f, nil
}

// Remove deletes an artifact. Removing a missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove %s: %w", ErrIO, path, err)
	}
	return nil
}
