package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DiskStorage keeps blobs under BasePath on a local (or mounted) filesystem.
type DiskStorage struct {
	// BasePath is a directory that is writable by the current process
	BasePath  string
	dirs      map[string]bool
	dirsMutex sync.Mutex
}

// NewDiskStorage creates the base directory if needed.
func NewDiskStorage(basePath string) (*DiskStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &DiskStorage{
		BasePath: basePath,
		dirs:     make(map[string]bool, 10),
	}, nil
}

func (s *DiskStorage) createDir(dir string) error {
	s.dirsMutex.Lock()
	defer s.dirsMutex.Unlock()

	if ok := s.dirs[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s.dirs[dir] = true
	return nil
}

func (s *DiskStorage) fullPath(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.BasePath, filepath.FromSlash(cleaned)), nil
}

func (s *DiskStorage) Save(_ context.Context, key string, reader io.Reader, _ string) (int64, error) {
	fileName, err := s.fullPath(key)
	if err != nil {
		return 0, err
	}
	if err := s.createDir(filepath.Dir(fileName)); err != nil {
		return 0, err
	}
	file, err := os.Create(fileName)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(fileName)
		return 0, err
	}
	return written, nil
}

func (s *DiskStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	fileName, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fileName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return file, err
}

func (s *DiskStorage) Delete(_ context.Context, key string) error {
	fileName, err := s.fullPath(key)
	if err != nil {
		return err
	}
	err = os.Remove(fileName)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotExist
	}
	return err
}
