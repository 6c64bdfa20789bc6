//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package conn

import "errors"

// ReusePortSupported reports whether ListenConfig.ReusePort can be honored.
const ReusePortSupported = false

func setReusePort(_ uintptr) error {
	return errors.New("SO_REUSEPORT is not supported on this platform")
}
