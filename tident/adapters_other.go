//go:build !windows

package tident

import (
	"net"
	"os"
	"path/filepath"
)

const sysClassNet = "/sys/class/net"

// Adapters lists the system's network interfaces. On Linux, sysfs tells
// wireless from wired; elsewhere the interface name decides.
func Adapters() ([]Adapter, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Adapter, 0, len(ifaces))
	for _, ifi := range ifaces {
		a := fromInterface(ifi)
		if a.Kind != KindLoopback && a.Kind != KindTunnel {
			if k, ok := sysfsKind(ifi.Name); ok {
				a.Kind = k
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func sysfsKind(name string) (Kind, bool) {
	dir := filepath.Join(sysClassNet, name)
	if _, err := os.Stat(dir); err != nil {
		return 0, false
	}
	if _, err := os.Stat(filepath.Join(dir, "wireless")); err == nil {
		return KindWireless, true
	}
	if _, err := os.Stat(filepath.Join(dir, "device")); err == nil {
		return KindEthernet, true
	}
	// Virtual interfaces (bridges, veth, docker) have no backing device.
	return KindOther, true
}
