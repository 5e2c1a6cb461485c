// Package tstore keeps small named values, chiefly the shared secrets used to
// verify tickets, in a directory, a key=value file or the Windows registry.
//
// Values written with encrypt set are protected at rest: DPAPI on Windows,
// NaCl secretbox with a key compiled into the binary elsewhere. The latter only
// keeps secrets out of plain text; it is not a substitute for file permissions.
package tstore

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DataStore provides key-value storage for secrets and settings.
type DataStore interface {
	// Get returns the value for key, or nil, nil if absent.
	Get(key string, decrypt bool) ([]byte, error)

	// Set stores value under key, encrypting it first if asked.
	Set(key string, encrypt bool, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// List returns the sorted keys that start with prefix.
	List(prefix string) ([]string, error)

	// Path returns the storage location for display purposes.
	Path() string
}

// ErrInvalidKey is returned for keys that cannot be stored safely.
var ErrInvalidKey = errors.New("tstore: invalid key")

// Open picks a DataStore from the shape of path: a registry path on Windows
// (LM\... or CU\...), a file ending in ".conf", or a directory otherwise.
// An empty path selects DefaultPath.
func Open(path string) (DataStore, error) {
	if path == "" {
		path = DefaultPath
	}
	if s, ok, err := openPlatform(path); ok || err != nil {
		return s, err
	}
	if strings.EqualFold(filepath.Ext(path), ".conf") {
		return NewConfigDataStore(path)
	}
	return NewFileDataStore(path)
}

// checkKey rejects keys that would escape a directory or break the
// key=value file format.
func checkKey(key string) error {
	if key == "" || key == "." || key == ".." {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "/\\=\n\r{}") || strings.HasPrefix(key, ".tmp-") {
		return ErrInvalidKey
	}
	return nil
}

func filterSorted(keys []string, prefix string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// expandPath expands a leading ~/ and environment variables.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.Expand(path, os.Getenv)
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(name)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
