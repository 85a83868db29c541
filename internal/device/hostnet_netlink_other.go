//go:build !linux

package device

import "fmt"

func newNetlink() (HostNetwork, error) {
	return nil, fmt.Errorf("netlink: %w", ErrUnsupported)
}
