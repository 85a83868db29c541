//go:build linux

package device

import (
	"errors"
	"fmt"
	"os"

	"github.com/songgao/water"
	"golang.org/x/sys/unix"
)

// Open creates or attaches the TUN interface name (IFF_TUN, no packet info)
// and returns a non-blocking channel on it. The kernel may pick a different
// name when name contains a pattern such as "tun%d".
func Open(name string, mtu int) (*FileChannel, error) {
	ifce, err := water.New(water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: name,
		},
	})
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("create %q: %w", name, err)}
	}

	f, err := adoptNonblocking(ifce)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return NewFileChannel(ifce.Name(), mtu, f, f), nil
}

// adoptNonblocking replaces the interface's file with a close-on-exec
// duplicate in non-blocking mode, registered with the runtime poller so read
// deadlines work. The original descriptor is closed; the device lives on
// through the duplicate.
func adoptNonblocking(ifce *water.Interface) (*os.File, error) {
	defer ifce.Close()

	f, ok := ifce.ReadWriteCloser.(*os.File)
	if !ok {
		return nil, fmt.Errorf("set nonblocking: %w", ErrUnsupported)
	}
	raw, err := f.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("set nonblocking: %w", err)
	}

	dup := -1
	var opErr error
	err = raw.Control(func(fd uintptr) {
		dup, opErr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
		if opErr != nil {
			return
		}
		if opErr = unix.SetNonblock(dup, true); opErr != nil {
			unix.Close(dup)
			dup = -1
		}
	})
	if err = errors.Join(err, opErr); err != nil {
		return nil, fmt.Errorf("set nonblocking: %w", err)
	}
	return os.NewFile(uintptr(dup), "/dev/net/tun"), nil
}
