// Package filestorage implements Storage interface that uses files on disk as storage.
package filestorage

import (
	"os"
	"path/filepath"

	"github.com/cenkalti/piecemeal/internal/storage"
)

// FileStorage keeps files under a destination directory.
type FileStorage struct {
	dest string
}

// New returns a FileStorage rooted at dest.
func New(dest string) (*FileStorage, error) {
	var err error
	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

var _ storage.Storage = (*FileStorage)(nil)

// Dest returns the absolute path of the destination directory.
func (s *FileStorage) Dest() string {
	return s.dest
}

func (s *FileStorage) path(name string) string {
	// All files are saved under dest.
	return filepath.Join(s.dest, filepath.Clean("/"+name))
}

// Open implements storage.Storage.
// The file is created if missing and its size is set to size.
func (s *FileStorage) Open(name string, size int64) (storage.File, bool, error) {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), os.ModeDir|0750); err != nil {
		return nil, false, err
	}
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	} else if err != nil {
		return nil, false, err
	}
	of, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640) // nolint: gosec
	if err != nil {
		return nil, false, err
	}
	if err = resize(of, size); err != nil {
		_ = of.Close()
		return nil, false, err
	}
	return &File{of}, exists, nil
}

func resize(f *os.File, size int64) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == size {
		return nil
	}
	return f.Truncate(size)
}

// OpenReader implements storage.Storage.
func (s *FileStorage) OpenReader(name string) (storage.Reader, error) {
	f, err := os.Open(s.path(name)) // nolint: gosec
	if err != nil {
		return nil, err
	}
	// Pieces are read in random order.
	_ = disableReadAhead(f)
	return f, nil
}
