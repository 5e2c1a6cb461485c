//go:build windows

package tstore

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// RegistryDataStore keeps each key as a REG_BINARY value under one registry
// key. Encrypted values use DPAPI.
type RegistryDataStore struct {
	hive    registry.Key
	keyPath string
}

var _ DataStore = (*RegistryDataStore)(nil)

// parseHive splits `LM\SOFTWARE\ticketgate\keys` into its hive and subkey.
func parseHive(path string) (registry.Key, string, bool) {
	path = strings.ReplaceAll(path, "/", `\`)
	prefix, rest, ok := strings.Cut(path, `\`)
	if !ok || rest == "" {
		return 0, "", false
	}
	switch strings.ToUpper(prefix) {
	case "LM", "HKLM", "LOCAL_MACHINE":
		return registry.LOCAL_MACHINE, rest, true
	case "CU", "HKCU", "CURRENT_USER":
		return registry.CURRENT_USER, rest, true
	}
	return 0, "", false
}

func openPlatform(path string) (DataStore, bool, error) {
	if _, _, ok := parseHive(path); !ok {
		return nil, false, nil
	}
	s, err := NewRegistryDataStore(path)
	if err != nil {
		return nil, true, err
	}
	return s, true, nil
}

// NewRegistryDataStore opens or creates the registry key named by path,
// which must start with LM\ or CU\.
func NewRegistryDataStore(path string) (*RegistryDataStore, error) {
	hive, keyPath, ok := parseHive(path)
	if !ok {
		return nil, fmt.Errorf("tstore: invalid registry path %q (use LM\\... or CU\\...)", path)
	}
	k, _, err := registry.CreateKey(hive, keyPath, registry.ALL_ACCESS)
	if err != nil {
		return nil, fmt.Errorf("tstore: create registry key: %w", err)
	}
	k.Close()
	return &RegistryDataStore{hive: hive, keyPath: keyPath}, nil
}

func (s *RegistryDataStore) Get(key string, decrypt bool) ([]byte, error) {
	k, err := registry.OpenKey(s.hive, s.keyPath, registry.QUERY_VALUE)
	if err != nil {
		return nil, nil
	}
	defer k.Close()

	data, _, err := k.GetBinaryValue(key)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tstore: read %s: %w", key, err)
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

func (s *RegistryDataStore) Set(key string, encrypt bool, value []byte) error {
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
	k, _, err := registry.CreateKey(s.hive, s.keyPath, registry.ALL_ACCESS)
	if err != nil {
		return fmt.Errorf("tstore: open registry key: %w", err)
	}
	defer k.Close()
	return k.SetBinaryValue(key, data)
}

func (s *RegistryDataStore) Delete(key string) error {
	k, err := registry.OpenKey(s.hive, s.keyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("tstore: open registry key: %w", err)
	}
	defer k.Close()
	err = k.DeleteValue(key)
	if errors.Is(err, registry.ErrNotExist) {
		return nil
	}
	return err
}

func (s *RegistryDataStore) List(prefix string) ([]string, error) {
	k, err := registry.OpenKey(s.hive, s.keyPath, registry.QUERY_VALUE)
	if err != nil {
		return nil, fmt.Errorf("tstore: open registry key: %w", err)
	}
	defer k.Close()
	names, err := k.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	return filterSorted(names, prefix), nil
}

func (s *RegistryDataStore) Path() string {
	name := "UNKNOWN"
	switch s.hive {
	case registry.LOCAL_MACHINE:
		name = "HKLM"
	case registry.CURRENT_USER:
		name = "HKCU"
	}
	return name + `\` + s.keyPath
}
