//go:build windows

package tident

import (
	"errors"
	"net"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Interface types from ipifcons.h.
const (
	ifTypeEthernet  = 6
	ifTypeLoopback  = 24
	ifTypeIEEE80211 = 71
	ifTypeTunnel    = 131
)

const ifOperStatusUp = 1

// Adapters lists the system's network adapters with the types Windows
// reports for them.
func Adapters() ([]Adapter, error) {
	size := uint32(15 << 10)
	for {
		buf := make([]byte, size)
		first := (*windows.IpAdapterAddresses)(unsafe.Pointer(&buf[0]))
		err := windows.GetAdaptersAddresses(windows.AF_UNSPEC, windows.GAA_FLAG_INCLUDE_PREFIX, 0, first, &size)
		if errors.Is(err, windows.ERROR_BUFFER_OVERFLOW) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var out []Adapter
		for aa := first; aa != nil; aa = aa.Next {
			out = append(out, fromAdapterAddresses(aa))
		}
		return out, nil
	}
}

func fromAdapterAddresses(aa *windows.IpAdapterAddresses) Adapter {
	a := Adapter{
		Name:        windows.UTF16PtrToString(aa.FriendlyName),
		Description: windows.UTF16PtrToString(aa.Description),
		Up:          aa.OperStatus == ifOperStatusUp,
		Index:       int(aa.IfIndex),
	}
	if n := aa.PhysicalAddressLength; n > 0 {
		a.MAC = append(net.HardwareAddr(nil), aa.PhysicalAddress[:n]...)
	}
	switch aa.IfType {
	case ifTypeEthernet:
		a.Kind = KindEthernet
	case ifTypeIEEE80211:
		a.Kind = KindWireless
	case ifTypeLoopback:
		a.Kind = KindLoopback
	case ifTypeTunnel:
		a.Kind = KindTunnel
	default:
		a.Kind = KindOther
	}
	return a
}
