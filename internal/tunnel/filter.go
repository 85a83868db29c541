package tunnel

import (
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// sourceAddr returns the source address of an IPv4 or IPv6 packet.
func sourceAddr(pkt []byte) (netip.Addr, bool) {
	if len(pkt) == 0 {
		return netip.Addr{}, false
	}
	switch pkt[0] >> 4 {
	case ipv4.Version:
		h, err := ipv4.ParseHeader(pkt)
		if err != nil {
			return netip.Addr{}, false
		}
		return netip.AddrFromSlice(h.Src.To4())
	case ipv6.Version:
		h, err := ipv6.ParseHeader(pkt)
		if err != nil {
			return netip.Addr{}, false
		}
		return netip.AddrFromSlice(h.Src.To16())
	default:
		return netip.Addr{}, false
	}
}

// allowed reports whether pkt may be written to the device. An invalid
// prefix allows everything; otherwise packets whose source cannot be parsed
// are refused.
func allowed(allow netip.Prefix, pkt []byte) bool {
	if !allow.IsValid() {
		return true
	}
	src, ok := sourceAddr(pkt)
	return ok && allow.Contains(src.Unmap())
}
