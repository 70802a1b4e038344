//go:build !linux

package netif

import "errors"

// bindSocket is unsupported off Linux except for unbound, unmarked sockets.
func bindSocket(_ int, iface string, mark uint32) error {
	if iface != "" || mark != 0 {
		return errors.New("interface binding requires linux")
	}
	return nil
}
