//go:build linux

package device

import (
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// Netlink configures interfaces over rtnetlink.
type Netlink struct{}

func newNetlink() (HostNetwork, error) { return Netlink{}, nil }

func (Netlink) AddAddress(ifname string, prefix netip.Prefix) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return err
	}
	return netlink.AddrReplace(link, toAddr(prefix))
}

func (Netlink) DelAddress(ifname string, prefix netip.Prefix) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return err
	}
	return netlink.AddrDel(link, toAddr(prefix))
}

func (Netlink) SetMTU(ifname string, mtu int) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return err
	}
	return netlink.LinkSetMTU(link, mtu)
}

func (Netlink) SetLinkUp(ifname string) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return err
	}
	return netlink.LinkSetUp(link)
}

func toAddr(prefix netip.Prefix) *netlink.Addr {
	bits := prefix.Addr().BitLen()
	return &netlink.Addr{IPNet: &net.IPNet{
		IP:   net.IP(prefix.Addr().AsSlice()),
		Mask: net.CIDRMask(prefix.Bits(), bits),
	}}
}
