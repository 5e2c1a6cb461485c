//go:build windows

package tconfig

import (
	"os"
	"path/filepath"
)

func defaultDir() string {
	programData := os.Getenv("PROGRAMDATA")
	if programData == "" {
		programData = `C:\ProgramData`
	}
	return filepath.Join(programData, "ticketgate")
}

// Keys live in the registry, encrypted with DPAPI.
func defaultKeyStore() string {
	return `LM\SOFTWARE\ticketgate\keys`
}
