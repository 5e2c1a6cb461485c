package tstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileDataStore keeps one file per key inside a directory.
type FileDataStore struct {
	dir string
	mu  sync.RWMutex
}

var _ DataStore = (*FileDataStore)(nil)

// NewFileDataStore creates dir if needed and returns a store rooted there.
func NewFileDataStore(dir string) (*FileDataStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("tstore: directory is required")
	}
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("tstore: create directory: %w", err)
	}
	return &FileDataStore{dir: dir}, nil
}

func (s *FileDataStore) Get(key string, decrypt bool) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !decrypt || len(data) == 0 {
		return data, nil
	}
	plain, err := decryptValue(data)
	if err != nil {
		return nil, fmt.Errorf("tstore: decrypt %s: %w", key, err)
	}
	return plain, nil
}

func (s *FileDataStore) Set(key string, encrypt bool, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data := value
	if encrypt {
		var err error
		if data, err = encryptValue(value); err != nil {
			return fmt.Errorf("tstore: encrypt %s: %w", key, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("tstore: create directory: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, key), data, 0600)
}

func (s *FileDataStore) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileDataStore) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || checkKey(e.Name()) != nil {
			continue
		}
		names = append(names, e.Name())
	}
	return filterSorted(names, prefix), nil
}

func (s *FileDataStore) Path() string {
	return s.dir
}
