//go:build !linux

package device

// Open is only implemented on Linux.
func Open(name string, mtu int) (*FileChannel, error) {
	return nil, &Error{Op: "open", Err: ErrUnsupported}
}
