package tunnel

import (
	"net/netip"

	"github.com/1ureka/whispertun/internal/device"
)

// DeviceOpener opens and configures the device for a new session.
type DeviceOpener func() (device.Channel, error)

// TUNOpener returns a DeviceOpener that creates the TUN interface name and
// assigns addr and mtu through host. A device that fails to configure is
// closed before the error is returned.
func TUNOpener(name string, mtu int, addr netip.Prefix, host device.HostNetwork) DeviceOpener {
	return func() (device.Channel, error) {
		ch, err := device.Open(name, mtu)
		if err != nil {
			return nil, err
		}
		if err := device.Configure(host, ch.Name(), addr, mtu); err != nil {
			ch.Close()
			return nil, err
		}
		return ch, nil
	}
}
