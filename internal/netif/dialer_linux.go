//go:build linux

package netif

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// bindSocket pins fd to iface and applies the fwmark.
func bindSocket(fd int, iface string, mark uint32) error {
	if iface != "" {
		if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface); err != nil {
			return fmt.Errorf("SO_BINDTODEVICE %q: %w", iface, err)
		}
	}
	if mark != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, int(mark)); err != nil {
			return fmt.Errorf("SO_MARK %#x: %w", mark, err)
		}
	}
	return nil
}
