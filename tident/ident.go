// Package tident discovers this machine's network identity: the hardware
// address of its most relevant active adapter.
package tident

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"strings"
)

// Kind classifies an adapter for ranking.
type Kind uint8

const (
	KindOther Kind = iota
	KindEthernet
	KindWireless
	KindTunnel
	KindLoopback
)

func (k Kind) String() string {
	switch k {
	case KindEthernet:
		return "ethernet"
	case KindWireless:
		return "wireless"
	case KindTunnel:
		return "tunnel"
	case KindLoopback:
		return "loopback"
	default:
		return "other"
	}
}

// rank orders candidates: ethernet first, then wireless, then the rest.
func (k Kind) rank() int {
	switch k {
	case KindEthernet:
		return 0
	case KindWireless:
		return 1
	default:
		return 2
	}
}

// Adapter is one network interface.
type Adapter struct {
	Name        string
	Description string
	Up          bool
	MAC         net.HardwareAddr
	Kind        Kind
	Index       int
}

// MarshalJSON renders the adapter for command line output.
func (a Adapter) MarshalJSON() ([]byte, error) {
	status := "down"
	if a.Up {
		status = "up"
	}
	return json.Marshal(struct {
		Name   string `json:"name"`
		Desc   string `json:"desc,omitempty"`
		Status string `json:"status"`
		MAC    string `json:"mac"`
		Type   string `json:"type"`
	}{a.Name, a.Description, status, FormatMACDashed(a.MAC), a.Kind.String()})
}

// ErrNoAdapter is returned when no adapter qualifies as the active one.
var ErrNoAdapter = errors.New("tident: no active network adapter")

// Active picks the adapter that identifies this machine: up, not loopback
// or tunnel, with a 6 byte hardware address. Ethernet beats wireless beats
// anything else; ties keep system order.
func Active(adapters []Adapter) (Adapter, bool) {
	var candidates []Adapter
	for _, a := range adapters {
		if !a.Up || a.Kind == KindLoopback || a.Kind == KindTunnel || len(a.MAC) != 6 {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return Adapter{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Kind.rank() < candidates[j].Kind.rank()
	})
	return candidates[0], true
}

// FormatMAC renders hw as upper-case hex without separators.
func FormatMAC(hw net.HardwareAddr) string {
	return strings.ToUpper(hex.EncodeToString(hw))
}

// FormatMACDashed renders hw as upper-case hex pairs joined by dashes.
func FormatMACDashed(hw net.HardwareAddr) string {
	parts := make([]string, len(hw))
	for i, b := range hw {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, "-")
}

// Resolver reports the active adapter's address as the local identity.
type Resolver struct {
	list func() ([]Adapter, error)
}

// NewResolver returns a Resolver backed by the operating system.
func NewResolver() *Resolver {
	return &Resolver{list: Adapters}
}

// LocalIdentity returns the active adapter's MAC address.
func (r *Resolver) LocalIdentity(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	adapters, err := r.list()
	if err != nil {
		return "", err
	}
	a, ok := Active(adapters)
	if !ok {
		return "", ErrNoAdapter
	}
	return FormatMAC(a.MAC), nil
}

// classifyName guesses an adapter's kind from its name where the platform
// does not report a type.
func classifyName(name string) Kind {
	n := strings.ToLower(name)
	switch {
	case n == "lo" || strings.HasPrefix(n, "loopback"):
		return KindLoopback
	case strings.HasPrefix(n, "wl"), strings.Contains(n, "wi-fi"), strings.Contains(n, "wireless"):
		return KindWireless
	case strings.HasPrefix(n, "tun"), strings.HasPrefix(n, "tap"), strings.HasPrefix(n, "utun"),
		strings.HasPrefix(n, "wg"), strings.HasPrefix(n, "ppp"), strings.HasPrefix(n, "ipsec"):
		return KindTunnel
	case strings.HasPrefix(n, "eth"), strings.HasPrefix(n, "en"), strings.Contains(n, "ethernet"):
		return KindEthernet
	}
	return KindOther
}

// fromInterface converts a net.Interface using name heuristics.
func fromInterface(ifi net.Interface) Adapter {
	a := Adapter{
		Name:  ifi.Name,
		Up:    ifi.Flags&net.FlagUp != 0,
		MAC:   ifi.HardwareAddr,
		Index: ifi.Index,
		Kind:  classifyName(ifi.Name),
	}
	switch {
	case ifi.Flags&net.FlagLoopback != 0:
		a.Kind = KindLoopback
	case ifi.Flags&net.FlagPointToPoint != 0:
		a.Kind = KindTunnel
	}
	return a
}
