//go:build !windows

package tconfig

func defaultDir() string {
	return "/etc/ticketgate"
}

func defaultKeyStore() string {
	return "/etc/ticketgate/keys"
}
