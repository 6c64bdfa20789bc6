//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package conn

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ReusePortSupported reports whether ListenConfig.ReusePort can be honored.
const ReusePortSupported = true

func setReusePort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEPORT: %w", err)
	}
	return nil
}
