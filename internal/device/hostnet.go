package device

import (
	"fmt"
	"net/netip"
)

// HostNetwork applies interface settings to the host network stack.
type HostNetwork interface {
	AddAddress(ifname string, prefix netip.Prefix) error
	DelAddress(ifname string, prefix netip.Prefix) error
	SetMTU(ifname string, mtu int) error
	SetLinkUp(ifname string) error
}

// Host network backend names accepted by NewHostNetwork.
const (
	BackendNetlink  = "netlink"
	BackendIPRoute2 = "iproute2"
)

// NewHostNetwork returns the named backend. An empty name selects netlink.
func NewHostNetwork(backend string) (HostNetwork, error) {
	switch backend {
	case "", BackendNetlink:
		return newNetlink()
	case BackendIPRoute2:
		return NewIPRoute2(), nil
	default:
		return nil, fmt.Errorf("unknown host network backend %q", backend)
	}
}

// Configure assigns addr to ifname, sets its MTU and brings it up. When a
// later step fails the address is removed again, so the caller never has to
// undo a partial configuration.
func Configure(host HostNetwork, ifname string, addr netip.Prefix, mtu int) error {
	if !addr.IsValid() {
		return &Error{Op: "configure", Err: fmt.Errorf("invalid address %v", addr)}
	}
	if err := host.AddAddress(ifname, addr); err != nil {
		return &Error{Op: "configure", Err: fmt.Errorf("add address %s to %s: %w", addr, ifname, err)}
	}
	if err := host.SetMTU(ifname, mtu); err != nil {
		_ = host.DelAddress(ifname, addr) // rollback
		return &Error{Op: "configure", Err: fmt.Errorf("set mtu %d on %s: %w", mtu, ifname, err)}
	}
	if err := host.SetLinkUp(ifname); err != nil {
		_ = host.DelAddress(ifname, addr) // rollback
		return &Error{Op: "configure", Err: fmt.Errorf("set %s up: %w", ifname, err)}
	}
	return nil
}
