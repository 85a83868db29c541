// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
	"net"
)

// Endpoint is anything with a local and remote address, such as a net.Conn
// or a tunnel stream.
type Endpoint interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// ConnID computes a 4-byte hash from a connection's local and remote
// addresses. It only labels log lines and does not need to be reversible.
func ConnID(conn Endpoint) uint32 {
	h := fnv.New32a()
	h.Write([]byte(addrString(conn.LocalAddr())))
	h.Write([]byte(addrString(conn.RemoteAddr())))
	return h.Sum32()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
