//go:build !windows

package tstore

func openPlatform(string) (DataStore, bool, error) {
	return nil, false, nil
}
