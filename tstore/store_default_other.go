//go:build !windows

package tstore

// DefaultPath is where the service keeps its keys when none is configured.
const DefaultPath = "/etc/ticketgate/keys"
